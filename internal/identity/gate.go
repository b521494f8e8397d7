// Package identity admits test takers. An identity is issued anonymously for a
// single test attempt and expires after model.IdentityTTL.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/storage"
	"github.com/stemsi/exstem-session/internal/validator"
)

// record is the persisted layout: {testId, attemptId, user:{fullName,email}, timestamp}.
type record struct {
	TestID    string `json:"testId"`
	AttemptID string `json:"attemptId,omitempty"`
	User      struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	} `json:"user"`
	Timestamp int64 `json:"timestamp"`
}

func (r record) identity() *model.TestIdentity {
	return &model.TestIdentity{
		TestID:    r.TestID,
		AttemptID: r.AttemptID,
		FullName:  r.User.FullName,
		Email:     r.User.Email,
		IssuedAt:  time.UnixMilli(r.Timestamp),
	}
}

// issueInput carries the trimmed credentials through the validator.
type issueInput struct {
	FullName     string `json:"full_name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	ConfirmEmail string `json:"confirm_email" binding:"eqfield=Email"`
}

// reasons maps field and tag to the message shown next to the input.
var reasons = map[string]string{
	"full_name.required":    "Please enter your full name",
	"email.required":        "Please enter your email address",
	"email.email":           "Please enter a valid email address",
	"confirm_email.eqfield": "Email addresses do not match",
}

// Gate issues, admits and invalidates test identities.
type Gate struct {
	medium storage.Medium
	now    storage.Clock
	log    zerolog.Logger
}

// NewGate creates a Gate over a client-scoped medium. A nil clock uses time.Now.
func NewGate(medium storage.Medium, now storage.Clock, log zerolog.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		medium: medium,
		now:    now,
		log:    log.With().Str("component", "identity_gate").Logger(),
	}
}

// Admit returns the stored identity for testID. A missing, undecodable or
// expired record yields a *StaleSessionError; the latter two are deleted.
func (g *Gate) Admit(ctx context.Context, testID string) (*model.TestIdentity, error) {
	key := config.CacheKey.IdentityKey(testID)
	data, err := g.medium.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &StaleSessionError{TestID: testID, Reason: "no identity"}
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.TestID != testID {
		g.discard(ctx, testID)
		return nil, &StaleSessionError{TestID: testID, Reason: "undecodable record"}
	}

	ident := rec.identity()
	if g.now().Sub(ident.IssuedAt) >= model.IdentityTTL {
		g.discard(ctx, testID)
		return nil, &StaleSessionError{TestID: testID, Reason: "expired"}
	}
	return ident, nil
}

// Issue validates and stores a new identity for testID, replacing any previous
// one. Nothing is stored when validation fails.
func (g *Gate) Issue(ctx context.Context, testID, fullName, email, confirmEmail string) (*model.TestIdentity, error) {
	in := issueInput{
		FullName:     strings.TrimSpace(fullName),
		Email:        strings.TrimSpace(email),
		ConfirmEmail: strings.TrimSpace(confirmEmail),
	}
	if err := validator.Engine().Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	now := g.now()
	var rec record
	rec.TestID = testID
	rec.AttemptID = uuid.NewString()
	rec.User.FullName = in.FullName
	rec.User.Email = in.Email
	rec.Timestamp = now.UnixMilli()

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	if err := g.medium.Set(ctx, config.CacheKey.IdentityKey(testID), data); err != nil {
		return nil, fmt.Errorf("store identity: %w", err)
	}

	g.log.Info().Str("test_id", testID).Str("attempt_id", rec.AttemptID).Msg("Identity issued")
	return rec.identity(), nil
}

// Invalidate removes the identity for testID. Removing a missing identity is
// not an error.
func (g *Gate) Invalidate(ctx context.Context, testID string) error {
	if err := g.medium.Delete(ctx, config.CacheKey.IdentityKey(testID)); err != nil {
		return fmt.Errorf("invalidate identity: %w", err)
	}
	return nil
}

func (g *Gate) discard(ctx context.Context, testID string) {
	if err := g.medium.Delete(ctx, config.CacheKey.IdentityKey(testID)); err != nil {
		g.log.Warn().Err(err).Str("test_id", testID).Msg("Failed to delete stale identity")
	}
}

func toValidationError(err error) error {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return fmt.Errorf("validate identity: %w", err)
	}

	translated := validator.TranslateErrors(ve)
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		reason, ok := reasons[fe.Field()+"."+fe.Tag()]
		if !ok {
			reason = translated[fe.Field()]
		}
		fields[fe.Field()] = reason
	}

	first := ve[0].Field()
	return &ValidationError{Field: first, Reason: fields[first], Fields: fields}
}

// Inspect decodes the stored identity regardless of its age. Unlike Admit it
// never deletes anything.
func Inspect(ctx context.Context, medium storage.Medium, testID string) (*model.TestIdentity, error) {
	data, err := medium.Get(ctx, config.CacheKey.IdentityKey(testID))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return rec.identity(), nil
}
