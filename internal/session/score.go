package session

import (
	"time"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// Score returns the percentage of questions answered correctly. A question
// counts only when an answer was given and it equals the correct answer.
// An assessment without questions scores 0.
func Score(a *models.Assessment, answers map[string]string) float64 {
	if len(a.Questions) == 0 {
		return 0
	}

	correct := 0
	for _, q := range a.Questions {
		given, ok := answers[q.ID]
		if ok && q.CorrectAnswer != "" && given == q.CorrectAnswer {
			correct++
		}
	}

	return float64(correct) / float64(len(a.Questions)) * 100
}

// Passed reports whether score reaches the passing threshold
func Passed(score, passingScore float64) bool {
	return score >= passingScore
}

// TimeSpent returns the whole minutes used: the time limit minus the
// whole minutes still remaining
func TimeSpent(timeLimit int, remaining time.Duration) int {
	if remaining < 0 {
		remaining = 0
	}
	spent := timeLimit - int(remaining/time.Minute)
	if spent < 0 {
		return 0
	}
	return spent
}

// Evaluate builds the completion record for a submission
func Evaluate(a *models.Assessment, answers map[string]string, remaining time.Duration, violations int) models.Completion {
	score := Score(a, answers)
	return models.Completion{
		Answers:    answers,
		Score:      score,
		Passed:     Passed(score, a.PassingScore),
		Violations: violations,
		TimeSpent:  TimeSpent(a.TimeLimit, remaining),
	}
}
