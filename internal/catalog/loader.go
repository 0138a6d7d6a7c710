// Package catalog loads assessment definitions from YAML files.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// Store receives the loaded assessments
type Store interface {
	UpsertAssessment(ctx context.Context, a *models.Assessment) error
}

// Loader manages loading and caching of assessment definitions
type Loader struct {
	mu          sync.RWMutex
	assessments map[string]*models.Assessment
}

// NewLoader creates a new catalog loader
func NewLoader() *Loader {
	return &Loader{
		assessments: make(map[string]*models.Assessment),
	}
}

// LoadFromDir loads every YAML file in dir and its direct subdirectories.
// Files that fail to parse or validate are skipped with a warning.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading assessments from directory", "dir", dir)

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("catalog directory: %w", err)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)

		subMatches, err := filepath.Glob(filepath.Join(dir, "*", pattern))
		if err != nil {
			continue
		}
		files = append(files, subMatches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load assessment", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("assessments loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single assessment from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	a, err := Parse(data)
	if err != nil {
		return err
	}

	// the file name is the id when none is given
	if a.ID == "" {
		base := filepath.Base(path)
		a.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := a.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	l.assessments[a.ID] = a
	l.mu.Unlock()

	slog.Info("assessment loaded", "id", a.ID, "questions", len(a.Questions), "time_limit", a.TimeLimit)
	return nil
}

// Parse decodes an assessment document and applies defaults. The result is
// not validated.
func Parse(data []byte) (*models.Assessment, error) {
	var f assessmentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if f.Title == "" {
		return nil, fmt.Errorf("%w: assessment title is required", models.ErrMalformed)
	}

	a := &models.Assessment{
		ID:           f.ID,
		Title:        f.Title,
		Description:  f.Description,
		JobRole:      f.JobRole,
		Type:         models.AssessmentType(f.Type),
		Difficulty:   f.Difficulty,
		TimeLimit:    f.TimeLimit,
		PassingScore: models.DefaultPassingScore,
		Proctoring:   f.Proctoring,
		CreatedBy:    f.CreatedBy,
	}

	// Apply defaults
	if a.TimeLimit == 0 {
		a.TimeLimit = models.DefaultTimeLimit
	}
	if f.PassingScore != nil {
		a.PassingScore = *f.PassingScore
	}
	if a.Type == "" {
		a.Type = models.AssessmentMultipleChoice
	}

	for i, q := range f.Questions {
		question := models.Question{
			ID:            q.ID,
			Type:          models.QuestionType(q.Type),
			Prompt:        q.Prompt,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Template:      q.Template,
		}
		if question.ID == "" {
			question.ID = fmt.Sprintf("q%d", i+1)
		}
		if question.Type == "" {
			question.Type = models.QuestionMultipleChoice
		}
		if len(q.TestCases) > 0 {
			raw, err := json.Marshal(q.TestCases)
			if err != nil {
				return nil, fmt.Errorf("question %s: failed to encode test cases: %w", question.ID, err)
			}
			question.TestCases = raw
		}
		a.Questions = append(a.Questions, question)
	}

	return a, nil
}

// Get retrieves an assessment by id
func (l *Loader) Get(id string) *models.Assessment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.assessments[id]
}

// List returns all loaded assessments ordered by id
func (l *Loader) List() []*models.Assessment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*models.Assessment, 0, len(l.assessments))
	for _, a := range l.assessments {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Seed upserts every loaded assessment into the store
func (l *Loader) Seed(ctx context.Context, store Store) error {
	all := l.List()
	for _, a := range all {
		if err := store.UpsertAssessment(ctx, a); err != nil {
			return fmt.Errorf("failed to seed assessment %s: %w", a.ID, err)
		}
	}
	slog.Info("catalog seeded", "count", len(all))
	return nil
}

// --- YAML file structs ---

// assessmentFile represents the YAML structure of an assessment file
type assessmentFile struct {
	ID           string                  `yaml:"id"`
	Title        string                  `yaml:"title"`
	Description  string                  `yaml:"description"`
	JobRole      string                  `yaml:"job_role"`
	Type         string                  `yaml:"type"`
	Difficulty   string                  `yaml:"difficulty"`
	TimeLimit    int                     `yaml:"time_limit"`
	PassingScore *float64                `yaml:"passing_score"`
	Proctoring   models.ProctoringConfig `yaml:"proctoring"`
	CreatedBy    string                  `yaml:"created_by"`
	Questions    []questionFile          `yaml:"questions"`
}

// questionFile represents one question entry
type questionFile struct {
	ID            string           `yaml:"id"`
	Type          string           `yaml:"type"`
	Prompt        string           `yaml:"prompt"`
	Options       []string         `yaml:"options"`
	CorrectAnswer string           `yaml:"correct_answer"`
	Template      string           `yaml:"template"`
	TestCases     []map[string]any `yaml:"test_cases"`
}
