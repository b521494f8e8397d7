package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ErrSubmissionNotFound is returned when no ledger row exists.
var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionRepository handles the durable submission ledger.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Upsert stores rec. Each attempt keeps its most recent acknowledgement.
func (r *SubmissionRepository) Upsert(ctx context.Context, rec *model.SubmissionRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO test_submissions
		   (test_id, attempt_id, taker_email, taker_name, submission_id, test_title, auto_submitted, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (test_id, attempt_id) DO UPDATE
		 SET submission_id = EXCLUDED.submission_id,
		     auto_submitted = EXCLUDED.auto_submitted,
		     submitted_at = EXCLUDED.submitted_at
		 WHERE test_submissions.submitted_at <= EXCLUDED.submitted_at`,
		rec.TestID, rec.AttemptID, strings.ToLower(rec.TakerEmail), rec.TakerName, rec.SubmissionID,
		rec.TestTitle, rec.AutoSubmitted, rec.SubmittedAt,
	)
	return err
}

// FindSubmission returns the submission recorded for one attempt.
func (r *SubmissionRepository) FindSubmission(ctx context.Context, testID, attemptID string) (*model.SubmissionRecord, error) {
	rec := &model.SubmissionRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT test_id, attempt_id, taker_email, taker_name, submission_id, test_title, auto_submitted, submitted_at
		 FROM test_submissions
		 WHERE test_id = $1 AND attempt_id = $2`,
		testID, attemptID,
	).Scan(&rec.TestID, &rec.AttemptID, &rec.TakerEmail, &rec.TakerName, &rec.SubmissionID,
		&rec.TestTitle, &rec.AutoSubmitted, &rec.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return rec, nil
}
