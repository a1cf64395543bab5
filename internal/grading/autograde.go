package grading

import (
	"strings"
	"time"

	"github.com/sertika/cbt-backend/internal/model"
)

// AutoGrade scores every auto-gradable question in a submission against the
// exam's answer key: trimmed, case-sensitive equality awards the full weight,
// anything else zero. Runs at finalization; questions that already carry a
// grade (a prior pass, or an assessor override) are left alone. Essays stay
// UNGRADED for the manual pipeline.
func AutoGrade(exam *model.ExamSession, sub *model.Submission, at time.Time) {
	for i := range exam.Questions {
		q := &exam.Questions[i]
		if !q.Type.AutoGradable() {
			continue
		}

		ans := sub.Answer(q.ID)
		if ans == nil {
			continue // unanswered, contributes nothing to the final score
		}
		if ans.GradeState != model.GradeStateUngraded {
			continue
		}

		score := 0.0
		if Matches(ans.Answer, q.CorrectAnswer) {
			score = float64(q.Weight)
		}
		ans.Score = &score
		ans.LastSaved = at
		ans.GradeState = model.GradeStateAutoGraded
	}
}

// Matches reports whether a candidate answer matches the answer key. The
// comparison trims surrounding whitespace but is case-sensitive.
func Matches(answer, key string) bool {
	return strings.TrimSpace(answer) == strings.TrimSpace(key)
}
