package grading

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sertika/cbt-backend/internal/model"
)

func testExam() *model.ExamSession {
	return &model.ExamSession{
		ID:    uuid.New(),
		Title: "Networking Fundamentals",
		Questions: []model.Question{
			{
				ID:            uuid.New(),
				Type:          model.QuestionTypeMultipleChoice,
				Text:          "Which layer does IP live on?",
				Options:       []string{"Network", "Transport", "Session", "Physical"},
				Weight:        10,
				CorrectAnswer: "Network",
			},
			{
				ID:            uuid.New(),
				Type:          model.QuestionTypeShortAnswer,
				Text:          "Which layer does TCP live on?",
				Weight:        10,
				CorrectAnswer: "Transport",
			},
			{
				ID:     uuid.New(),
				Type:   model.QuestionTypeEssay,
				Text:   "Explain the difference between TCP and UDP.",
				Weight: 30,
			},
			{
				ID:     uuid.New(),
				Type:   model.QuestionTypeEssay,
				Text:   "Describe the TLS handshake.",
				Weight: 30,
			},
		},
	}
}

func testSubmission(exam *model.ExamSession) *model.Submission {
	return &model.Submission{
		ID:            uuid.New(),
		ExamID:        exam.ID,
		CandidateName: "Rani Puspita",
		Status:        model.MonitoringCompleted,
		Answers:       make(map[uuid.UUID]*model.UserAnswer),
	}
}

func answer(sub *model.Submission, q *model.Question, text string) {
	sub.Answers[q.ID] = &model.UserAnswer{
		QuestionID: q.ID,
		Answer:     text,
		LastSaved:  time.Now(),
		GradeState: model.GradeStateUngraded,
	}
}

func TestAutoGradeKeyMatching(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)

	mc := &exam.Questions[0]
	sa := &exam.Questions[1]
	essay := &exam.Questions[2]

	answer(sub, mc, "  Network ") // surrounding whitespace is forgiven
	answer(sub, sa, "transport") // case matters
	answer(sub, essay, "TCP is connection-oriented, UDP is not.")

	AutoGrade(exam, sub, time.Now())

	require.True(t, sub.Answer(mc.ID).Scored())
	assert.Equal(t, 10.0, *sub.Answer(mc.ID).Score)
	assert.Equal(t, model.GradeStateAutoGraded, sub.Answer(mc.ID).GradeState)

	require.True(t, sub.Answer(sa.ID).Scored())
	assert.Equal(t, 0.0, *sub.Answer(sa.ID).Score)

	assert.False(t, sub.Answer(essay.ID).Scored())
	assert.Equal(t, model.GradeStateUngraded, sub.Answer(essay.ID).GradeState)
}

func TestAutoGradeSkipsAlreadyGraded(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	mc := &exam.Questions[0]

	answer(sub, mc, "Network")
	override := 5.0
	sub.Answer(mc.ID).Score = &override
	sub.Answer(mc.ID).GradeState = model.GradeStateManuallyGraded

	AutoGrade(exam, sub, time.Now())

	assert.Equal(t, 5.0, *sub.Answer(mc.ID).Score)
	assert.Equal(t, model.GradeStateManuallyGraded, sub.Answer(mc.ID).GradeState)
}

func TestSetScoreClampsToWeight(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	essay := &exam.Questions[2]
	answer(sub, essay, "some essay text")

	eng := NewEngine(exam, sub)

	stored, err := eng.SetScore(essay.ID, 45, "good answer")
	require.NoError(t, err)
	assert.Equal(t, 30.0, stored)
	assert.Equal(t, 30.0, *sub.Answer(essay.ID).Score)

	stored, err = eng.SetScore(essay.ID, -3, "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored)
	assert.True(t, sub.Answer(essay.ID).Scored(), "zero is a recorded grade")
	assert.Equal(t, model.GradeStateManuallyGraded, sub.Answer(essay.ID).GradeState)
}

func TestSetScoreUnknownQuestion(t *testing.T) {
	exam := testExam()
	eng := NewEngine(exam, testSubmission(exam))

	_, err := eng.SetScore(uuid.New(), 10, "")
	assert.ErrorIs(t, err, ErrUnknownQuestion)
}

func TestSetScoreOnBlankEssay(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	essay := &exam.Questions[2]

	eng := NewEngine(exam, sub)
	_, err := eng.SetScore(essay.ID, 0, "no answer given")
	require.NoError(t, err)

	require.True(t, sub.Answer(essay.ID).Scored())
	assert.Equal(t, "no answer given", sub.Answer(essay.ID).Feedback)
}

func TestApplySuggestionAdoptsOnlyOnce(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	essay := &exam.Questions[2]
	answer(sub, essay, "some essay text")

	eng := NewEngine(exam, sub)

	adopted, err := eng.ApplySuggestion(essay.ID, 24, "covers the key points")
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, 24.0, *sub.Answer(essay.ID).Score)
	assert.Equal(t, "covers the key points", sub.Answer(essay.ID).Feedback)
	assert.Equal(t, model.GradeStateAISuggested, sub.Answer(essay.ID).GradeState)

	// Assessor overrides, then a second suggestion arrives.
	_, err = eng.SetScore(essay.ID, 20, "missed flow control")
	require.NoError(t, err)

	adopted, err = eng.ApplySuggestion(essay.ID, 18, "revised reading")
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Equal(t, 20.0, *sub.Answer(essay.ID).Score, "manual score survives")
	assert.Equal(t, "missed flow control", sub.Answer(essay.ID).Feedback)
	assert.Equal(t, 18.0, *sub.Answer(essay.ID).AISuggestedScore, "suggestion still recorded")
	assert.Equal(t, model.GradeStateManuallyGraded, sub.Answer(essay.ID).GradeState)
}

func TestApplySuggestionNeverClobbersDeliberateZero(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	essay := &exam.Questions[2]
	answer(sub, essay, "off-topic rambling")

	eng := NewEngine(exam, sub)
	_, err := eng.SetScore(essay.ID, 0, "does not address the question")
	require.NoError(t, err)

	adopted, err := eng.ApplySuggestion(essay.ID, 12, "partially relevant")
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Equal(t, 0.0, *sub.Answer(essay.ID).Score)
}

func TestApplySuggestionClampsScore(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	essay := &exam.Questions[2]
	answer(sub, essay, "thorough answer")

	eng := NewEngine(exam, sub)
	adopted, err := eng.ApplySuggestion(essay.ID, 120, "excellent")
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, 30.0, *sub.Answer(essay.ID).AISuggestedScore)
	assert.Equal(t, 30.0, *sub.Answer(essay.ID).Score)
}

func TestReviewStatusProgression(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	essayA := &exam.Questions[2]
	essayB := &exam.Questions[3]
	answer(sub, essayA, "a")
	answer(sub, essayB, "b")

	eng := NewEngine(exam, sub)

	assert.Equal(t, model.ReviewStatusNotReviewed, ReviewStatusOf(exam, sub))
	assert.ErrorIs(t, CheckReviewComplete(exam, sub), ErrReviewIncomplete)

	_, err := eng.SetScore(essayA.ID, 25, "")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewStatusPartiallyReviewed, ReviewStatusOf(exam, sub))

	_, err = eng.SetScore(essayB.ID, 0, "blank")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewStatusReviewed, ReviewStatusOf(exam, sub))
	assert.NoError(t, CheckReviewComplete(exam, sub))
}

func TestReviewStatusIgnoresAutoGradedQuestions(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	answer(sub, &exam.Questions[0], "Network")
	answer(sub, &exam.Questions[1], "Transport")
	AutoGrade(exam, sub, time.Now())

	// Both auto-gradable questions are scored, but neither essay is.
	assert.Equal(t, model.ReviewStatusNotReviewed, ReviewStatusOf(exam, sub))
}

func TestReviewStatusNoEssays(t *testing.T) {
	exam := testExam()
	exam.Questions = exam.Questions[:2]
	sub := testSubmission(exam)

	assert.Equal(t, model.ReviewStatusReviewed, ReviewStatusOf(exam, sub))
	assert.NoError(t, CheckReviewComplete(exam, sub))
}

func TestScoreReductions(t *testing.T) {
	exam := testExam()
	sub := testSubmission(exam)
	answer(sub, &exam.Questions[0], "Network")
	answer(sub, &exam.Questions[1], "Transport")
	answer(sub, &exam.Questions[2], "long essay")
	AutoGrade(exam, sub, time.Now())

	eng := NewEngine(exam, sub)
	_, err := eng.SetScore(exam.Questions[2].ID, 22, "")
	require.NoError(t, err)

	assert.Equal(t, 20.0, AutoScore(exam, sub))
	assert.Equal(t, 42.0, FinalScore(sub))
	assert.Equal(t, 80, exam.MaxScore())
}
