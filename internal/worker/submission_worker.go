package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// SubmissionStore is the durable side of the submission ledger.
type SubmissionStore interface {
	Upsert(ctx context.Context, rec *model.SubmissionRecord) error
}

// SubmissionWorker consumes persist_submissions_queue and UPSERTs ledger
// entries to PostgreSQL.
type SubmissionWorker struct {
	store      SubmissionStore
	rdb        *redis.Client
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewSubmissionWorker creates a new SubmissionWorker.
func NewSubmissionWorker(store SubmissionStore, rdb *redis.Client, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		store:      store,
		rdb:        rdb,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "submission_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmissionWorker) processNext(ctx context.Context) {
	queue := config.WorkerKey.PersistSubmissionsQueue

	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			w.pause(ctx)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var rec model.SubmissionRecord
	if err := json.Unmarshal([]byte(result[1]), &rec); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping entry")
		return
	}

	if err := w.store.Upsert(ctx, &rec); err != nil {
		w.log.Error().Err(err).
			Str("test_id", rec.TestID).
			Str("submission_id", rec.SubmissionID).
			Dur("retry_in", w.retryDelay).
			Msg("Persist error, requeueing")
		// Push back to queue for retry.
		w.rdb.RPush(context.Background(), queue, result[1])
		w.pause(ctx)
		return
	}

	w.log.Debug().Str("test_id", rec.TestID).Str("submission_id", rec.SubmissionID).Msg("Submission persisted")
}

func (w *SubmissionWorker) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.retryDelay):
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *SubmissionWorker) drain(ctx context.Context) {
	queue := config.WorkerKey.PersistSubmissionsQueue
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, queue).Result()
		if err != nil {
			break
		}

		var rec model.SubmissionRecord
		if err := json.Unmarshal([]byte(result), &rec); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.store.Upsert(ctx, &rec); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, queue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
