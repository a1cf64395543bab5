package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/repository"
)

const (
	FinalizeBatchSize    = 50
	FinalizeBatchTimeout = 2 * time.Second
	FinalizePollTimeout  = 1 * time.Second
)

// FinalizeWorker consumes the finalize queue and marks submissions
// COMPLETED with their auto scores in batches, then clears the per-attempt
// autosave buffers.
type FinalizeWorker struct {
	subRepo *repository.SubmissionRepository
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewFinalizeWorker creates a new FinalizeWorker.
func NewFinalizeWorker(subRepo *repository.SubmissionRepository, rdb *redis.Client, log zerolog.Logger) *FinalizeWorker {
	return &FinalizeWorker{
		subRepo: subRepo,
		rdb:     rdb,
		log:     log.With().Str("component", "finalize_worker").Logger(),
	}
}

type finalizePayload struct {
	SubmissionID string  `json:"submission_id"`
	ExamID       string  `json:"exam_id"`
	CandidateID  int     `json:"candidate_id"`
	AutoScore    float64 `json:"auto_score"`
}

// Start runs the worker loop with batching. Call in a goroutine.
func (w *FinalizeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FinalizeWorker started")

	batch := make([]*finalizePayload, 0, FinalizeBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= FinalizeBatchSize || time.Since(lastFlush) >= FinalizeBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, FinalizePollTimeout, config.WorkerKey.PersistScoresQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p finalizePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

// flushSafe attempts the bulk update, falls back to row-by-row, and requeues
// what cannot be persisted.
func (w *FinalizeWorker) flushSafe(ctx context.Context, batch []*finalizePayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkComplete(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("Bulk complete failed, using fallback")

		for _, p := range batch {
			id, err := uuid.Parse(p.SubmissionID)
			if err != nil {
				w.log.Error().Str("submission_id", p.SubmissionID).Msg("Dropping payload with invalid UUID")
				continue
			}
			if err := w.subRepo.CompleteSingle(ctx, id, p.AutoScore); err != nil {
				w.log.Error().Err(err).Msg("CompleteSingle failed, requeueing")
				raw, _ := json.Marshal(p)
				w.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw)
			}
		}
		return
	}

	// Completed submissions no longer need their autosave buffers.
	w.clearAutosaveBuffers(ctx, batch)
}

func (w *FinalizeWorker) bulkComplete(ctx context.Context, batch []*finalizePayload) error {
	ids := make([]uuid.UUID, 0, len(batch))
	scores := make([]float64, 0, len(batch))
	for _, p := range batch {
		id, err := uuid.Parse(p.SubmissionID)
		if err != nil {
			// Trigger fallback; it drops the bad item individually.
			return err
		}
		ids = append(ids, id)
		scores = append(scores, p.AutoScore)
	}
	return w.subRepo.CompleteBulk(ctx, ids, scores, time.Now())
}

func (w *FinalizeWorker) clearAutosaveBuffers(ctx context.Context, batch []*finalizePayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range batch {
		pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(p.ExamID, p.CandidateID))
		pipe.Del(ctx, config.CacheKey.AttemptQuestionOrderKey(p.ExamID, p.CandidateID))
	}
	_, _ = pipe.Exec(ctx)
}
