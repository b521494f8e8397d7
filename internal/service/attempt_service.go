package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/catalog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/identity"
	"github.com/stemsi/exstem-session/internal/ledger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/progress"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/storage"
)

// AttemptService scopes identity and progress records to one client and
// builds session controllers over them.
type AttemptService struct {
	medium  storage.Medium
	tokens  *identity.Tokens
	catalog catalog.Fetcher
	grading session.Submitter
	ledger  ledger.Ledger
	now     storage.Clock
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService. ledger may be nil.
func NewAttemptService(
	medium storage.Medium,
	tokens *identity.Tokens,
	catalog catalog.Fetcher,
	grading session.Submitter,
	ledger ledger.Ledger,
	now storage.Clock,
	log zerolog.Logger,
) *AttemptService {
	if now == nil {
		now = time.Now
	}
	return &AttemptService{
		medium:  medium,
		tokens:  tokens,
		catalog: catalog,
		grading: grading,
		ledger:  ledger,
		now:     now,
		log:     log,
	}
}

// IssueIdentity stores a validated identity for testID under clientID and
// signs an attempt token for it. An empty clientID starts a new namespace.
func (s *AttemptService) IssueIdentity(ctx context.Context, testID, clientID string, req model.IssueIdentityRequest) (*model.IssuedIdentity, error) {
	if clientID == "" {
		clientID = identity.NewClientID()
	}

	ident, err := s.gate(clientID).Issue(ctx, testID, req.FullName, req.Email, req.ConfirmEmail)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(clientID, testID, ident.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("issue attempt token: %w", err)
	}

	return &model.IssuedIdentity{
		ClientID:  clientID,
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  *ident,
	}, nil
}

// CheckIdentity admits the client's identity for testID.
func (s *AttemptService) CheckIdentity(ctx context.Context, testID, clientID string) (*model.TestIdentity, error) {
	return s.gate(clientID).Admit(ctx, testID)
}

// InvalidateIdentity removes the client's identity for testID.
func (s *AttemptService) InvalidateIdentity(ctx context.Context, testID, clientID string) error {
	return s.gate(clientID).Invalidate(ctx, testID)
}

// NewSession builds a controller for one attempt of clientID at testID.
func (s *AttemptService) NewSession(testID, clientID string, nav session.Navigator, opts ...session.Option) *session.Controller {
	log := s.log.With().Str("client_id", clientID).Logger()
	medium := s.clientMedium(clientID)

	deps := session.Deps{
		Identity:  identity.NewGate(medium, s.now, log),
		Catalog:   s.catalog,
		Progress:  progress.NewStore(medium, s.now, log),
		Grading:   s.grading,
		Ledger:    s.ledger,
		Navigator: nav,
	}
	base := []session.Option{session.WithLogger(log), session.WithClock(s.now)}
	return session.New(testID, deps, append(base, opts...)...)
}

func (s *AttemptService) gate(clientID string) *identity.Gate {
	return identity.NewGate(s.clientMedium(clientID), s.now, s.log.With().Str("client_id", clientID).Logger())
}

func (s *AttemptService) clientMedium(clientID string) storage.Medium {
	return storage.NewNamespaced(s.medium, config.CacheKey.ClientNamespace(clientID))
}
