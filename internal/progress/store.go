// Package progress persists in-progress test snapshots so a reload or
// reconnect resumes where the taker left off.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/storage"
)

// Store saves, loads and clears progress snapshots keyed by test id.
type Store interface {
	Save(ctx context.Context, testID string, snap model.ProgressSnapshot)
	Load(ctx context.Context, testID string) (*model.ProgressSnapshot, bool)
	Clear(ctx context.Context, testID string)
}

// record is the persisted layout: {answers, currentQuestion, timeLeft, timestamp}.
type record struct {
	Answers         model.AnswerMap `json:"answers"`
	CurrentQuestion int             `json:"currentQuestion"`
	TimeLeft        int64           `json:"timeLeft"`
	Timestamp       int64           `json:"timestamp"`
}

// MediumStore is a Store over a storage.Medium.
type MediumStore struct {
	medium storage.Medium
	now    storage.Clock
	log    zerolog.Logger
}

// NewStore creates a MediumStore. A nil clock uses time.Now.
func NewStore(medium storage.Medium, now storage.Clock, log zerolog.Logger) *MediumStore {
	if now == nil {
		now = time.Now
	}
	return &MediumStore{
		medium: medium,
		now:    now,
		log:    log.With().Str("component", "progress_store").Logger(),
	}
}

// Save overwrites the snapshot for testID. Failures are logged, never returned.
// The SavedAt field of snap is ignored; the store stamps its own clock.
func (s *MediumStore) Save(ctx context.Context, testID string, snap model.ProgressSnapshot) {
	answers := snap.Answers
	if answers == nil {
		answers = model.AnswerMap{}
	}
	data, err := json.Marshal(record{
		Answers:         answers,
		CurrentQuestion: snap.CurrentQuestionIndex,
		TimeLeft:        snap.TimeLeftMs,
		Timestamp:       s.now().UnixMilli(),
	})
	if err != nil {
		metrics.SnapshotWrites.WithLabelValues("encode_error").Inc()
		s.log.Error().Err(err).Str("test_id", testID).Msg("Encode snapshot failed")
		return
	}

	if err := s.medium.Set(ctx, config.CacheKey.ProgressKey(testID), data); err != nil {
		metrics.SnapshotWrites.WithLabelValues("write_error").Inc()
		s.log.Error().Err(err).Str("test_id", testID).Msg("Save snapshot failed")
		return
	}
	metrics.SnapshotWrites.WithLabelValues("ok").Inc()
}

// Load returns the snapshot for testID if one exists, decodes and is younger
// than model.SnapshotTTL. Stale records are left in place.
func (s *MediumStore) Load(ctx context.Context, testID string) (*model.ProgressSnapshot, bool) {
	data, err := s.medium.Get(ctx, config.CacheKey.ProgressKey(testID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Err(err).Str("test_id", testID).Msg("Read snapshot failed")
		}
		return nil, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID).Msg("Discarding undecodable snapshot")
		return nil, false
	}

	savedAt := time.UnixMilli(rec.Timestamp)
	if s.now().Sub(savedAt) >= model.SnapshotTTL {
		s.log.Debug().
			Str("test_id", testID).
			Time("saved_at", savedAt).
			Msg("Ignoring stale snapshot")
		return nil, false
	}

	if rec.Answers == nil {
		rec.Answers = model.AnswerMap{}
	}
	return &model.ProgressSnapshot{
		Answers:              rec.Answers,
		CurrentQuestionIndex: rec.CurrentQuestion,
		TimeLeftMs:           rec.TimeLeft,
		SavedAt:              savedAt,
	}, true
}

// Clear removes the snapshot. Removing a missing snapshot is not an error.
func (s *MediumStore) Clear(ctx context.Context, testID string) {
	if err := s.medium.Delete(ctx, config.CacheKey.ProgressKey(testID)); err != nil {
		s.log.Error().Err(err).Str("test_id", testID).Msg("Clear snapshot failed")
	}
}

// Inspect decodes the stored snapshot regardless of its age. Used by
// diagnostics; the session never resumes from it.
func Inspect(ctx context.Context, medium storage.Medium, testID string) (*model.ProgressSnapshot, error) {
	data, err := medium.Get(ctx, config.CacheKey.ProgressKey(testID))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &model.ProgressSnapshot{
		Answers:              rec.Answers,
		CurrentQuestionIndex: rec.CurrentQuestion,
		TimeLeftMs:           rec.TimeLeft,
		SavedAt:              time.UnixMilli(rec.Timestamp),
	}, nil
}
