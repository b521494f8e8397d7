// Package ledger remembers acknowledged submissions so an attempt whose local
// cleanup was interrupted is shown as submitted instead of resumed.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

var (
	// ErrNoEntry is returned by Lookup when nothing was recorded.
	ErrNoEntry = errors.New("no ledger entry")
	// ErrNoAttempt is returned by Record for an entry without an attempt id.
	ErrNoAttempt = errors.New("ledger entry has no attempt id")
)

// Ledger records and looks up acknowledged submissions by test and attempt.
// Attempts that share an email never see each other's entries.
type Ledger interface {
	Record(ctx context.Context, rec model.SubmissionRecord) error
	Lookup(ctx context.Context, testID, attemptID string) (*model.SubmissionRecord, error)
}

// Archive is the durable store behind the Redis fast lane.
type Archive interface {
	FindSubmission(ctx context.Context, testID, attemptID string) (*model.SubmissionRecord, error)
}

// RedisLedger keeps entries in Redis and queues them for the persistence
// worker. Lookups that miss Redis fall back to the archive.
type RedisLedger struct {
	rdb       *redis.Client
	archive   Archive
	retention time.Duration
	log       zerolog.Logger
}

// NewRedisLedger creates a RedisLedger. archive may be nil.
func NewRedisLedger(rdb *redis.Client, archive Archive, retention time.Duration, log zerolog.Logger) *RedisLedger {
	return &RedisLedger{
		rdb:       rdb,
		archive:   archive,
		retention: retention,
		log:       log.With().Str("component", "submission_ledger").Logger(),
	}
}

func ledgerKey(testID, attemptID string) string {
	return config.CacheKey.SubmissionLedgerKey(testID, attemptID)
}

// Record stores rec and enqueues it for persistence in one transaction.
func (l *RedisLedger) Record(ctx context.Context, rec model.SubmissionRecord) error {
	if rec.AttemptID == "" {
		return ErrNoAttempt
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ledgerKey(rec.TestID, rec.AttemptID), data, l.retention)
		pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

// Lookup returns the entry for testID and attemptID, or ErrNoEntry.
func (l *RedisLedger) Lookup(ctx context.Context, testID, attemptID string) (*model.SubmissionRecord, error) {
	if attemptID == "" {
		return nil, ErrNoEntry
	}
	key := ledgerKey(testID, attemptID)
	data, err := l.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var rec model.SubmissionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		return &rec, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}

	if l.archive == nil {
		return nil, ErrNoEntry
	}
	rec, err := l.archive.FindSubmission(ctx, testID, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, ErrNoEntry
		}
		return nil, fmt.Errorf("read archived ledger entry: %w", err)
	}

	// Warm the fast lane for the next lookup.
	if data, err := json.Marshal(rec); err == nil {
		if err := l.rdb.Set(ctx, key, data, l.retention).Err(); err != nil {
			l.log.Warn().Err(err).Str("test_id", testID).Msg("Failed to restore ledger entry")
		}
	}
	return rec, nil
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]model.SubmissionRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]model.SubmissionRecord)}
}

func (m *MemoryLedger) Record(_ context.Context, rec model.SubmissionRecord) error {
	if rec.AttemptID == "" {
		return ErrNoAttempt
	}
	m.mu.Lock()
	m.entries[ledgerKey(rec.TestID, rec.AttemptID)] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryLedger) Lookup(_ context.Context, testID, attemptID string) (*model.SubmissionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.entries[ledgerKey(testID, attemptID)]
	if !ok {
		return nil, ErrNoEntry
	}
	return &rec, nil
}
