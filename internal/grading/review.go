package grading

import (
	"errors"

	"github.com/sertika/cbt-backend/internal/model"
)

// ErrReviewIncomplete is returned when grading finalization is requested
// before every manually-gradable question has a score.
var ErrReviewIncomplete = errors.New("submission has unreviewed essay questions")

// ManuallyGradable reports whether a question requires an assessor score.
// Only essays count: short answers are key-matched at finalization and an
// override there is a correction, not a required review step.
func ManuallyGradable(q *model.Question) bool {
	return q.Type == model.QuestionTypeEssay
}

// ReviewStatusOf derives the submission-level review status from the ledger.
// It is never stored: with zero manually-gradable questions a submission is
// REVIEWED outright.
func ReviewStatusOf(exam *model.ExamSession, sub *model.Submission) model.ReviewStatus {
	total := 0
	reviewed := 0
	for i := range exam.Questions {
		q := &exam.Questions[i]
		if !ManuallyGradable(q) {
			continue
		}
		total++
		if sub.Answer(q.ID).Scored() {
			reviewed++
		}
	}

	switch {
	case total == 0:
		return model.ReviewStatusReviewed
	case reviewed == 0:
		return model.ReviewStatusNotReviewed
	case reviewed < total:
		return model.ReviewStatusPartiallyReviewed
	default:
		return model.ReviewStatusReviewed
	}
}

// AutoScore sums the scores of every non-essay question.
func AutoScore(exam *model.ExamSession, sub *model.Submission) float64 {
	total := 0.0
	for i := range exam.Questions {
		q := &exam.Questions[i]
		if q.Type == model.QuestionTypeEssay {
			continue
		}
		if ans := sub.Answer(q.ID); ans.Scored() {
			total += *ans.Score
		}
	}
	return total
}

// FinalScore sums every recorded score in the ledger.
func FinalScore(sub *model.Submission) float64 {
	total := 0.0
	for _, ans := range sub.Answers {
		if ans.Scored() {
			total += *ans.Score
		}
	}
	return total
}

// CheckReviewComplete gates grading finalization: a submission may only be
// marked review-complete once its derived status is REVIEWED.
func CheckReviewComplete(exam *model.ExamSession, sub *model.Submission) error {
	if ReviewStatusOf(exam, sub) != model.ReviewStatusReviewed {
		return ErrReviewIncomplete
	}
	return nil
}
