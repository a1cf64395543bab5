package attempt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/model"
)

const timeLayout = time.RFC3339Nano

// RedisMirror persists the in-progress ledger to a per-attempt Redis hash
// and queues each write for asynchronous PostgreSQL persistence. This is the
// same two-lane autosave layout the rest of the system reads: the hash for
// fast resume, the queue for the durable worker.
type RedisMirror struct {
	rdb          *redis.Client
	submissionID uuid.UUID
	answersKey   string
}

// NewRedisMirror creates a mirror for one candidate's attempt at one exam.
func NewRedisMirror(rdb *redis.Client, examID uuid.UUID, candidateID int, submissionID uuid.UUID) *RedisMirror {
	return &RedisMirror{
		rdb:          rdb,
		submissionID: submissionID,
		answersKey:   config.CacheKey.AttemptAnswersKey(examID.String(), candidateID),
	}
}

type mirrorEntry struct {
	Answer    string `json:"answer"`
	LastSaved string `json:"last_saved"`
}

// Save writes one answer to the attempt hash and queues it for persistence.
func (m *RedisMirror) Save(ctx context.Context, questionID uuid.UUID, ans *model.UserAnswer) error {
	entry, err := json.Marshal(mirrorEntry{
		Answer:    ans.Answer,
		LastSaved: ans.LastSaved.UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	if err := m.rdb.HSet(ctx, m.answersKey, questionID.String(), entry).Err(); err != nil {
		return fmt.Errorf("mirror hset: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"submission_id": m.submissionID.String(),
		"question_id":   questionID.String(),
		"answer":        ans.Answer,
		"last_saved":    ans.LastSaved.UTC().Format(timeLayout),
	})
	return m.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err()
}

// Load restores the mirrored ledger.
func (m *RedisMirror) Load(ctx context.Context) (map[uuid.UUID]*model.UserAnswer, error) {
	raw, err := m.rdb.HGetAll(ctx, m.answersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("mirror hgetall: %w", err)
	}

	out := make(map[uuid.UUID]*model.UserAnswer, len(raw))
	for field, val := range raw {
		qid, err := uuid.Parse(field)
		if err != nil {
			continue // stale or foreign field, skip
		}

		var entry mirrorEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			continue
		}

		ans := &model.UserAnswer{
			QuestionID: qid,
			Answer:     entry.Answer,
			GradeState: model.GradeStateUngraded,
		}
		if ts, err := time.Parse(timeLayout, entry.LastSaved); err == nil {
			ans.LastSaved = ts
		}
		out[qid] = ans
	}
	return out, nil
}
