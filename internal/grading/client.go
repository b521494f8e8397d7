// Package grading delivers completed attempts to the grading collaborator.
package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

const (
	// serviceTokenTTL bounds the lifetime of each signed request.
	serviceTokenTTL = 5 * time.Minute
	serviceSubject  = "exstem-session"
	maxBodyBytes    = 1 << 20
)

// ErrorKind classifies a failed submission.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindServer        ErrorKind = "server"
)

// SubmissionError is returned when the grading collaborator does not
// acknowledge a submission.
type SubmissionError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("submission %s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("submission %s error: %s", e.Kind, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Sender delivers one payload and returns the collaborator's submission id.
type Sender interface {
	Send(ctx context.Context, testID string, payload model.SubmissionPayload) (string, error)
}

// Client posts to {baseURL}/submissions/{testId}/submit.
type Client struct {
	baseURL    string
	secret     []byte
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(baseURL, secret string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "grading_client").Logger(),
	}
}

type ackBody struct {
	SubmissionID string `json:"submissionId"`
}

type failureBody struct {
	Status  any    `json:"status"`
	Message string `json:"message"`
}

// Send performs exactly one request. Failures are *SubmissionError.
func (c *Client) Send(ctx context.Context, testID string, payload model.SubmissionPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SubmissionError{Kind: KindValidation, Message: "encode payload", Err: err}
	}

	token, err := c.serviceToken(time.Now())
	if err != nil {
		return "", &SubmissionError{Kind: KindAuthorization, Message: "sign service token", Err: err}
	}

	endpoint := c.baseURL + "/submissions/" + url.PathEscape(testID) + "/submit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Kind: KindNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmissionError{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &SubmissionError{Kind: KindNetwork, Status: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var fb failureBody
		_ = json.Unmarshal(raw, &fb)
		msg := fb.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &SubmissionError{Kind: classify(resp.StatusCode), Status: resp.StatusCode, Message: msg}
	}

	var ack ackBody
	if err := json.Unmarshal(raw, &ack); err != nil {
		return "", &SubmissionError{Kind: KindServer, Status: resp.StatusCode, Message: "undecodable acknowledgement", Err: err}
	}
	if ack.SubmissionID == "" {
		return "", &SubmissionError{Kind: KindServer, Status: resp.StatusCode, Message: "acknowledgement carries no submission id"}
	}
	return ack.SubmissionID, nil
}

func (c *Client) serviceToken(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   serviceSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func classify(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthorization
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}

// AsSubmissionError extracts a *SubmissionError from err.
func AsSubmissionError(err error) (*SubmissionError, bool) {
	var se *SubmissionError
	ok := errors.As(err, &se)
	return se, ok
}
