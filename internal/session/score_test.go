package session

import (
	"reflect"
	"testing"
	"time"

	"github.com/terra-clan/proctor-engine/internal/models"
)

func scoringAssessment() *models.Assessment {
	return &models.Assessment{
		ID:           "a1",
		TimeLimit:    30,
		PassingScore: 70,
		Questions: []models.Question{
			{ID: "q1", Type: models.QuestionMultipleChoice, Options: []string{"3", "4"}, CorrectAnswer: "1"},
			{ID: "q2", Type: models.QuestionText, CorrectAnswer: "Paris"},
			{ID: "q3", Type: models.QuestionText, CorrectAnswer: "blue"},
			{ID: "q4", Type: models.QuestionCoding},
		},
	}
}

func TestScore(t *testing.T) {
	a := scoringAssessment()

	tests := []struct {
		name    string
		answers map[string]string
		want    float64
	}{
		{"no answers", nil, 0},
		{"all correct", map[string]string{"q1": "1", "q2": "Paris", "q3": "blue"}, 75},
		{"one correct", map[string]string{"q1": "1", "q2": "paris"}, 25},
		{"empty correct answer never matches", map[string]string{"q4": ""}, 0},
		{"unknown keys ignored", map[string]string{"zz": "1", "q3": "blue"}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(a, tt.answers); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_NotRounded(t *testing.T) {
	a := &models.Assessment{Questions: []models.Question{
		{ID: "q1", CorrectAnswer: "a"},
		{ID: "q2", CorrectAnswer: "b"},
		{ID: "q3", CorrectAnswer: "c"},
	}}

	got := Score(a, map[string]string{"q1": "a"})
	want := float64(1) / 3 * 100
	if got != want {
		t.Errorf("Score() = %v, want %v", got, want)
	}
}

func TestScore_NoQuestions(t *testing.T) {
	if got := Score(&models.Assessment{}, map[string]string{"q1": "x"}); got != 0 {
		t.Errorf("Score() = %v, want 0", got)
	}
}

func TestPassed(t *testing.T) {
	if !Passed(70, 70) {
		t.Error("Passed(70, 70) = false, threshold is inclusive")
	}
	if Passed(69.99, 70) {
		t.Error("Passed(69.99, 70) = true")
	}
	if !Passed(0, 0) {
		t.Error("Passed(0, 0) = false")
	}
}

func TestTimeSpent(t *testing.T) {
	tests := []struct {
		limit     int
		remaining time.Duration
		want      int
	}{
		{30, 30 * time.Minute, 0},
		{30, 29*time.Minute + 59*time.Second, 1},
		{30, 12*time.Minute + 30*time.Second, 18},
		{30, 0, 30},
		{30, -time.Minute, 30},
		{1, 2 * time.Minute, 0},
	}

	for _, tt := range tests {
		if got := TimeSpent(tt.limit, tt.remaining); got != tt.want {
			t.Errorf("TimeSpent(%d, %v) = %d, want %d", tt.limit, tt.remaining, got, tt.want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	a := scoringAssessment()
	answers := map[string]string{"q1": "1", "q2": "Paris", "q3": "blue"}

	c := Evaluate(a, answers, 20*time.Minute, 2)

	if c.Score != 75 || !c.Passed {
		t.Errorf("score = %v passed = %v, want 75 true", c.Score, c.Passed)
	}
	if c.TimeSpent != 10 {
		t.Errorf("TimeSpent = %d, want 10", c.TimeSpent)
	}
	if c.Violations != 2 {
		t.Errorf("Violations = %d, want 2", c.Violations)
	}
	if !reflect.DeepEqual(c.Answers, answers) {
		t.Errorf("Answers = %v", c.Answers)
	}
}

func TestGate(t *testing.T) {
	cfg := models.ProctoringConfig{Camera: true, BrowserLock: true}

	required := RequiredCapabilities(cfg)
	want := []models.Capability{models.CapabilityCamera, models.CapabilityBrowserLock}
	if !reflect.DeepEqual(required, want) {
		t.Fatalf("RequiredCapabilities() = %v, want %v", required, want)
	}

	grants := map[models.Capability]bool{models.CapabilityCamera: true}
	if RequiredGranted(cfg, grants) {
		t.Error("gate open with browser lock missing")
	}
	if missing := MissingCapabilities(cfg, grants); !reflect.DeepEqual(missing, []models.Capability{models.CapabilityBrowserLock}) {
		t.Errorf("MissingCapabilities() = %v", missing)
	}

	grants[models.CapabilityBrowserLock] = true
	grants[models.CapabilityScreen] = true
	if !RequiredGranted(cfg, grants) {
		t.Error("gate closed with everything granted")
	}

	if !RequiredGranted(models.ProctoringConfig{}, nil) {
		t.Error("gate closed with nothing required")
	}
}
