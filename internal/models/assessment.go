package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformed is returned when a stored or loaded document fails validation
var ErrMalformed = errors.New("malformed document")

// AssessmentType describes what kind of questions an assessment carries
type AssessmentType string

const (
	AssessmentMultipleChoice AssessmentType = "multiple_choice"
	AssessmentCoding         AssessmentType = "coding"
	AssessmentText           AssessmentType = "text"
	AssessmentFullStack      AssessmentType = "full_stack"
)

// QuestionType is the type of a single question
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionCoding         QuestionType = "coding"
	QuestionText           QuestionType = "text"
)

const (
	DefaultTimeLimit    = 30 // minutes
	DefaultPassingScore = 70 // percent
)

// Capability is a proctoring capability that may be required by an assessment.
// Camera, screen and microphone are media modalities; the rest are acknowledgements.
type Capability string

const (
	CapabilityCamera      Capability = "camera"
	CapabilityScreen      Capability = "screen"
	CapabilityMicrophone  Capability = "microphone"
	CapabilityBrowserLock Capability = "browser_lock"
	CapabilityIPTracking  Capability = "ip_tracking"
)

// IsMedia reports whether the capability needs a captured media track
func (c Capability) IsMedia() bool {
	return c == CapabilityCamera || c == CapabilityScreen || c == CapabilityMicrophone
}

// ProctoringConfig holds the proctoring flags of an assessment
type ProctoringConfig struct {
	Camera      bool `json:"camera" yaml:"camera"`
	Screen      bool `json:"screen" yaml:"screen"`
	Microphone  bool `json:"microphone" yaml:"microphone"`
	BrowserLock bool `json:"browser_lock" yaml:"browser_lock"`
	IPTracking  bool `json:"ip_tracking" yaml:"ip_tracking"`
}

// Enabled returns true if any proctoring flag is set
func (c ProctoringConfig) Enabled() bool {
	return c.Camera || c.Screen || c.Microphone || c.BrowserLock || c.IPTracking
}

// Requires reports whether the given capability is enabled
func (c ProctoringConfig) Requires(capability Capability) bool {
	switch capability {
	case CapabilityCamera:
		return c.Camera
	case CapabilityScreen:
		return c.Screen
	case CapabilityMicrophone:
		return c.Microphone
	case CapabilityBrowserLock:
		return c.BrowserLock
	case CapabilityIPTracking:
		return c.IPTracking
	}
	return false
}

// Question is a single item within an assessment
type Question struct {
	ID            string          `json:"id"`
	Type          QuestionType    `json:"type"`
	Prompt        string          `json:"prompt"`
	Options       []string        `json:"options,omitempty"`
	CorrectAnswer string          `json:"correct_answer,omitempty"`
	Template      string          `json:"template,omitempty"`
	TestCases     json.RawMessage `json:"test_cases,omitempty"`
}

// Assessment is a reusable test definition
type Assessment struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	JobRole      string           `json:"job_role,omitempty"`
	Type         AssessmentType   `json:"type"`
	Difficulty   string           `json:"difficulty,omitempty"`
	Questions    []Question       `json:"questions"`
	TimeLimit    int              `json:"time_limit"`    // minutes
	PassingScore float64          `json:"passing_score"` // percent
	Proctoring   ProctoringConfig `json:"proctoring"`
	Assignments  int              `json:"assignments"`
	Submissions  int              `json:"submissions"`
	CreatedBy    string           `json:"created_by,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Duration returns the time limit as a duration
func (a *Assessment) Duration() time.Duration {
	return time.Duration(a.TimeLimit) * time.Minute
}

// HasQuestion checks whether the assessment owns the given question id
func (a *Assessment) HasQuestion(id string) bool {
	for i := range a.Questions {
		if a.Questions[i].ID == id {
			return true
		}
	}
	return false
}

// QuestionIDs returns the set of question ids
func (a *Assessment) QuestionIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(a.Questions))
	for i := range a.Questions {
		ids[a.Questions[i].ID] = struct{}{}
	}
	return ids
}

// ForCandidate returns a copy with correct answers removed
func (a *Assessment) ForCandidate() *Assessment {
	cp := *a
	cp.Questions = make([]Question, len(a.Questions))
	for i, q := range a.Questions {
		q.CorrectAnswer = ""
		cp.Questions[i] = q
	}
	return &cp
}

// Validate checks the assessment structure
func (a *Assessment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrMalformed)
	}
	if a.TimeLimit <= 0 {
		return fmt.Errorf("%w: assessment %s: time limit must be positive", ErrMalformed, a.ID)
	}
	if a.PassingScore < 0 || a.PassingScore > 100 {
		return fmt.Errorf("%w: assessment %s: passing score out of range", ErrMalformed, a.ID)
	}

	seen := make(map[string]struct{}, len(a.Questions))
	for i, q := range a.Questions {
		if q.ID == "" {
			return fmt.Errorf("%w: assessment %s: question %d has no id", ErrMalformed, a.ID, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: assessment %s: duplicate question id %q", ErrMalformed, a.ID, q.ID)
		}
		seen[q.ID] = struct{}{}

		if q.Type == QuestionMultipleChoice && q.CorrectAnswer != "" {
			idx, err := strconv.Atoi(q.CorrectAnswer)
			if err != nil || idx < 0 || idx >= len(q.Options) {
				return fmt.Errorf("%w: assessment %s: question %q: correct answer %q is not an option index",
					ErrMalformed, a.ID, q.ID, q.CorrectAnswer)
			}
		}
	}
	return nil
}

// AssessmentCounter names an atomically incremented assessment counter
type AssessmentCounter string

const (
	CounterAssignments AssessmentCounter = "assignments"
	CounterSubmissions AssessmentCounter = "submissions"
)
