package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CandidateLoginKey returns the cache key for a candidate's login session.
func (r *CacheKeyStruct) CandidateLoginKey(candidateID int) string {
	return fmt.Sprintf("login:%d", candidateID)
}

// AttemptStartKey returns the cache key for a candidate's attempt start time.
func (r *CacheKeyStruct) AttemptStartKey(examID string, candidateID int) string {
	return fmt.Sprintf("candidate:%d:exam:%s:attempt_start", candidateID, examID)
}

// AttemptAnswersKey returns the cache key for a candidate's autosaved answers.
func (r *CacheKeyStruct) AttemptAnswersKey(examID string, candidateID int) string {
	return fmt.Sprintf("candidate:%d:exam:%s:answers", candidateID, examID)
}

// AttemptQuestionOrderKey returns the cache key for a candidate's shuffled
// question order (randomize_questions exams).
func (r *CacheKeyStruct) AttemptQuestionOrderKey(examID string, candidateID int) string {
	return fmt.Sprintf("candidate:%d:exam:%s:question_order", candidateID, examID)
}

// ExamPayloadKey returns the cache key for an exam's participant payload.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamDurationKey returns the cache key for an exam's duration.
func (r *CacheKeyStruct) ExamDurationKey(examID string) string {
	return fmt.Sprintf("exam:%s:duration", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key hash.
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel for an exam's live
// monitor stream.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
