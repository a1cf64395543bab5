package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/repository"
)

const (
	EventBatchSize    = 50
	EventBatchTimeout = 2 * time.Second
	EventPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWorker consumes the timeline event queue and bulk-inserts events into
// PostgreSQL via CopyFrom.
type EventWorker struct {
	subRepo *repository.SubmissionRepository
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(subRepo *repository.SubmissionRepository, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		subRepo: subRepo,
		rdb:     rdb,
		log:     log.With().Str("component", "event_worker").Logger(),
	}
}

type eventPayload struct {
	SubmissionID string `json:"submission_id"`
	Type         string `json:"type"`
	Label        string `json:"label"`
	OccurredAt   string `json:"occurred_at"`
}

func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]*eventPayload, 0, EventBatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= EventBatchSize || time.Since(lastFlushTime) >= EventBatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, EventPollTimeout, config.WorkerKey.PersistEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload eventPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then falls back row by row.
func (w *EventWorker) flushSafe(ctx context.Context, batch []*eventPayload) {
	rows, bad := w.toRows(batch)
	for _, p := range bad {
		w.log.Error().Str("submission_id", p.SubmissionID).Msg("Dropping event with invalid payload")
	}
	if len(rows) == 0 {
		return
	}

	if err := w.subRepo.InsertEventsBulk(ctx, rows); err != nil {
		w.log.Warn().Err(err).Int("count", len(rows)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, rows)
	}
}

func (w *EventWorker) toRows(batch []*eventPayload) ([]repository.EventRow, []*eventPayload) {
	rows := make([]repository.EventRow, 0, len(batch))
	var bad []*eventPayload
	for _, p := range batch {
		id, err := uuid.Parse(p.SubmissionID)
		if err != nil {
			bad = append(bad, p)
			continue
		}
		occurredAt, err := time.Parse(time.RFC3339Nano, p.OccurredAt)
		if err != nil {
			occurredAt = time.Now()
		}
		rows = append(rows, repository.EventRow{
			SubmissionID: id,
			Type:         model.EventType(p.Type),
			Label:        p.Label,
			OccurredAt:   occurredAt,
		})
	}
	return rows, bad
}

func (w *EventWorker) fallbackInsert(ctx context.Context, rows []repository.EventRow) {
	requeueList := make([]repository.EventRow, 0)

	for _, row := range rows {
		if err := w.subRepo.InsertEvent(ctx, row); err != nil {
			w.log.Error().Err(err).Str("submission_id", row.SubmissionID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, row)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *EventWorker) requeue(ctx context.Context, rows []repository.EventRow) {
	pipe := w.rdb.Pipeline()
	for _, row := range rows {
		data, _ := json.Marshal(eventPayload{
			SubmissionID: row.SubmissionID.String(),
			Type:         string(row.Type),
			Label:        row.Label,
			OccurredAt:   row.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(rows)).Msg("Requeued failed events back to Redis")
	// Avoid thrashing if the database is down hard.
	time.Sleep(2 * time.Second)
}

func (w *EventWorker) shutdown(buffer []*eventPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
