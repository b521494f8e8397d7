// Package session runs one test attempt: admission, loading, the timed answer
// loop and the single submission that ends it.
package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/catalog"
	"github.com/stemsi/exstem-session/internal/countdown"
	"github.com/stemsi/exstem-session/internal/grading"
	"github.com/stemsi/exstem-session/internal/identity"
	"github.com/stemsi/exstem-session/internal/ledger"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/progress"
	"github.com/stemsi/exstem-session/internal/storage"
)

// Messages reported for failed submissions start with one of these.
const (
	ManualFailurePrefix = "Failed to submit test: "
	ExpiryFailurePrefix = "Auto-submission failed: "
)

// IdentityGate admits and invalidates test takers.
type IdentityGate interface {
	Admit(ctx context.Context, testID string) (*model.TestIdentity, error)
	Invalidate(ctx context.Context, testID string) error
}

// Submitter delivers a completed attempt.
type Submitter interface {
	Submit(ctx context.Context, testID string, identity model.TestIdentity, answers model.AnswerMap) model.SubmissionResult
}

// Deps are the collaborators of a Controller. Ledger may be nil.
type Deps struct {
	Identity  IdentityGate
	Catalog   catalog.Fetcher
	Progress  progress.Store
	Grading   Submitter
	Ledger    ledger.Ledger
	Navigator Navigator
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the parent logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log.With().Str("component", "session_controller").Str("test_id", c.testID).Logger()
	}
}

// WithClock sets the clock used for receipts.
func WithClock(now storage.Clock) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCountdownOptions passes options to every countdown the controller starts.
func WithCountdownOptions(opts ...countdown.Option) Option {
	return func(c *Controller) { c.timerOpts = append(c.timerOpts, opts...) }
}

// WithObserver registers a callback invoked with a fresh View after every
// change. It runs without the controller lock held.
func WithObserver(fn func(View)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller owns the answers, cursor and countdown of one attempt. All
// state transitions happen under mu; collaborator network calls do not.
type Controller struct {
	testID string
	deps   Deps
	log    zerolog.Logger
	now    storage.Clock

	timerOpts []countdown.Option
	observer  func(View)

	// bg outlives the host connection so saves and submissions finish.
	bg context.Context

	mu                 sync.Mutex
	seq                uint64
	state              State
	identity           *model.TestIdentity
	def                *model.TestDefinition
	answers            model.AnswerMap
	cursor             int
	timer              *countdown.Engine
	submissionInFlight bool
	expiryHandled      bool
	confirmPending     bool
	exitPending        bool
	lastError          string
	closed             bool
}

// New creates a controller for testID in the Unauthenticated state.
func New(testID string, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		testID:  testID,
		deps:    deps,
		now:     time.Now,
		bg:      context.Background(),
		answers: model.AnswerMap{},
		state:   StateUnauthenticated,
	}
	c.log = zerolog.Nop()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open admits the taker and loads the attempt. When authentication is
// required the navigator is told and the controller stays Unauthenticated.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnauthenticated {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.setStateLocked(StateAuthenticating)
	c.mu.Unlock()
	c.notify()

	return c.admitAndLoad(ctx)
}

// Retry repeats whatever failed from the Error state.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateError {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	admitted := c.identity != nil
	if admitted {
		c.setStateLocked(StateLoading)
	} else {
		c.setStateLocked(StateAuthenticating)
	}
	c.lastError = ""
	c.mu.Unlock()
	c.notify()

	if admitted {
		return c.load(ctx)
	}
	return c.admitAndLoad(ctx)
}

// Home abandons the attempt without touching stored progress.
func (c *Controller) Home() {
	c.mu.Lock()
	c.pauseLocked()
	c.mu.Unlock()
	c.deps.Navigator.ShowHome()
}

func (c *Controller) admitAndLoad(ctx context.Context) error {
	ident, err := c.deps.Identity.Admit(ctx, c.testID)
	if err != nil {
		if errors.Is(err, identity.ErrAuthenticationRequired) {
			c.mu.Lock()
			c.setStateLocked(StateUnauthenticated)
			c.mu.Unlock()
			c.notify()
			c.log.Debug().Err(err).Msg("Authentication required")
			c.deps.Navigator.RequireAuthentication(c.testID)
			return err
		}
		c.fail(err)
		return err
	}

	if rec := c.recoveredSubmission(ctx, ident); rec != nil {
		c.log.Info().Str("submission_id", rec.SubmissionID).Msg("Attempt already submitted, finishing cleanup")
		c.cleanup()
		c.mu.Lock()
		c.identity = ident
		c.submissionInFlight = true
		c.setStateLocked(StateSubmitted)
		c.mu.Unlock()
		c.notify()
		c.deps.Navigator.ShowSubmissionSuccess(rec.Receipt())
		return nil
	}

	c.mu.Lock()
	c.identity = ident
	c.setStateLocked(StateLoading)
	c.mu.Unlock()
	c.notify()

	return c.load(ctx)
}

// recoveredSubmission returns the ledger entry acknowledged for exactly this
// attempt. Entries of other attempts, including ones sharing the email, are
// ignored.
func (c *Controller) recoveredSubmission(ctx context.Context, ident *model.TestIdentity) *model.SubmissionRecord {
	if c.deps.Ledger == nil || ident.AttemptID == "" {
		return nil
	}
	rec, err := c.deps.Ledger.Lookup(ctx, c.testID, ident.AttemptID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNoEntry) {
			c.log.Warn().Err(err).Msg("Ledger lookup failed, resuming attempt")
		}
		return nil
	}
	if rec.AttemptID != ident.AttemptID || rec.SubmittedAt.Before(ident.IssuedAt) {
		return nil
	}
	return rec
}

func (c *Controller) load(ctx context.Context) error {
	def, err := c.deps.Catalog.FetchTestByID(ctx, c.testID)
	if err != nil {
		c.fail(err)
		return err
	}
	snap, resumed := c.deps.Progress.Load(ctx, c.testID)

	c.mu.Lock()
	if c.state != StateLoading {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.def = def
	remaining := time.Duration(def.DurationMs) * time.Millisecond
	c.answers = model.AnswerMap{}
	c.cursor = 0
	if resumed {
		answers, dropped := snap.Answers.Conform(def)
		if dropped > 0 {
			c.log.Warn().Int("dropped", dropped).Msg("Discarded answers that do not fit the test")
		}
		c.answers = answers
		c.cursor = min(max(snap.CurrentQuestionIndex, 0), len(def.Questions)-1)
		remaining = time.Duration(snap.TimeLeftMs) * time.Millisecond
	}

	var timer *countdown.Engine
	opts := append([]countdown.Option{
		countdown.WithTickFunc(func(time.Duration) { c.onTick(timer) }),
	}, c.timerOpts...)
	timer = countdown.New(remaining, func() { c.onExpire(timer) }, opts...)
	c.timer = timer
	c.expiryHandled = false

	c.setStateLocked(StateInProgress)
	c.saveLocked()
	expired := remaining <= 0
	if !expired && !c.closed {
		timer.Start()
	}
	answered := len(c.answers)
	c.mu.Unlock()

	c.log.Info().
		Bool("resumed", resumed).
		Int("answered", answered).
		Dur("remaining", remaining).
		Msg("Attempt in progress")
	c.notify()

	if expired {
		_ = c.submit(model.TriggerExpiry)
	}
	return nil
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.setStateLocked(StateError)
	msg := c.lastError
	c.mu.Unlock()
	c.log.Warn().Err(err).Msg("Attempt failed to load")
	c.notify()
	c.deps.Navigator.ShowError(msg, true)
}

func (c *Controller) onTick(timer *countdown.Engine) {
	c.mu.Lock()
	if c.timer != timer || c.state != StateInProgress {
		c.mu.Unlock()
		return
	}
	c.seq++
	c.saveLocked()
	c.mu.Unlock()
	c.notify()
}

// onExpire submits once per countdown. A manual submission that started after
// the countdown reached zero has already consumed the expiry.
func (c *Controller) onExpire(timer *countdown.Engine) {
	c.mu.Lock()
	if c.timer != timer || c.expiryHandled {
		c.mu.Unlock()
		c.log.Debug().Msg("Expiry already handled, ignoring")
		return
	}
	c.expiryHandled = true
	c.mu.Unlock()
	c.log.Info().Msg("Time is up, submitting")
	if err := c.submit(model.TriggerExpiry); err != nil && !errors.Is(err, ErrSubmissionInFlight) {
		c.log.Debug().Err(err).Msg("Automatic submission did not complete")
	}
}

// RequestSubmit opens the confirmation dialog and pauses the countdown.
func (c *Controller) RequestSubmit() error {
	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.confirmPending = true
	c.timer.Pause()
	c.seq++
	c.mu.Unlock()
	c.notify()
	return nil
}

// CancelSubmit closes the confirmation dialog and resumes the countdown.
func (c *Controller) CancelSubmit() error {
	c.mu.Lock()
	if !c.confirmPending {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.confirmPending = false
	c.resumeLocked()
	c.seq++
	c.mu.Unlock()
	c.notify()
	return nil
}

// ConfirmSubmit is the manual submission trigger. It requires the dialog
// opened by RequestSubmit.
func (c *Controller) ConfirmSubmit(context.Context) error {
	return c.submit(model.TriggerManual)
}

// Exit opens the leave dialog and pauses the countdown.
func (c *Controller) Exit() error {
	c.mu.Lock()
	if c.state != StateInProgress {
		c.mu.Unlock()
		return ErrNotEditable
	}
	c.exitPending = true
	c.timer.Pause()
	c.seq++
	c.mu.Unlock()
	c.notify()
	return nil
}

// Continue closes the leave dialog and resumes the countdown.
func (c *Controller) Continue() error {
	c.mu.Lock()
	if !c.exitPending {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.exitPending = false
	c.resumeLocked()
	c.seq++
	c.mu.Unlock()
	c.notify()
	return nil
}

// Abandon leaves the attempt. Progress stays stored for a later resume.
func (c *Controller) Abandon() {
	c.mu.Lock()
	c.exitPending = false
	c.pauseLocked()
	if c.state == StateInProgress {
		c.saveLocked()
	}
	c.seq++
	c.mu.Unlock()
	c.notify()
	c.deps.Navigator.ShowHome()
}

// Close detaches the host. The countdown pauses and the snapshot remains; an
// in-flight submission still completes.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pauseLocked()
	if c.state == StateInProgress {
		c.saveLocked()
	}
}

func (c *Controller) submit(trigger model.SubmitTrigger) error {
	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if trigger == model.TriggerManual {
		if !c.confirmPending {
			c.mu.Unlock()
			return ErrInvalidTransition
		}
		if c.timer.Expired() {
			c.expiryHandled = true
		}
	}
	c.submissionInFlight = true
	c.confirmPending = false
	c.timer.Pause()
	c.saveLocked()
	c.setStateLocked(StateSubmitting)
	ident := *c.identity
	answers := c.answers.Clone()
	title := c.def.Title
	c.mu.Unlock()
	c.notify()

	res := c.deps.Grading.Submit(c.bg, c.testID, ident, answers)
	if !res.Ok() {
		metrics.Submissions.WithLabelValues(string(trigger), "error").Inc()
		return c.submissionFailed(trigger, res.Err)
	}
	metrics.Submissions.WithLabelValues(string(trigger), "ok").Inc()

	rec := model.SubmissionRecord{
		TestID:        c.testID,
		AttemptID:     ident.AttemptID,
		TakerEmail:    ident.Email,
		TakerName:     ident.FullName,
		SubmissionID:  res.SubmissionID,
		TestTitle:     title,
		SubmittedAt:   c.now(),
		AutoSubmitted: trigger == model.TriggerExpiry,
	}
	if c.deps.Ledger != nil {
		if err := c.deps.Ledger.Record(c.bg, rec); err != nil {
			c.log.Error().Err(err).Str("submission_id", rec.SubmissionID).Msg("Failed to record submission in ledger")
		}
	}
	c.cleanup()

	c.mu.Lock()
	c.lastError = ""
	c.exitPending = false
	c.setStateLocked(StateSubmitted)
	c.mu.Unlock()

	c.log.Info().
		Str("submission_id", rec.SubmissionID).
		Str("trigger", string(trigger)).
		Msg("Attempt submitted")
	c.notify()
	c.deps.Navigator.ShowSubmissionSuccess(rec.Receipt())
	return nil
}

func (c *Controller) submissionFailed(trigger model.SubmitTrigger, err error) error {
	msg := err.Error()
	if se, ok := grading.AsSubmissionError(err); ok && se.Message != "" {
		msg = se.Message
	}
	prefix := ManualFailurePrefix
	if trigger == model.TriggerExpiry {
		prefix = ExpiryFailurePrefix
	}

	c.mu.Lock()
	c.submissionInFlight = false
	c.lastError = prefix + msg
	c.setStateLocked(StateInProgress)
	if trigger == model.TriggerManual {
		c.resumeLocked()
	}
	display := c.lastError
	c.mu.Unlock()

	c.log.Warn().Err(err).Str("trigger", string(trigger)).Msg("Submission failed")
	c.notify()
	c.deps.Navigator.ShowError(display, true)
	return err
}

// cleanup tears down local attempt state after an acknowledged submission.
func (c *Controller) cleanup() {
	c.deps.Progress.Clear(c.bg, c.testID)
	if err := c.deps.Identity.Invalidate(c.bg, c.testID); err != nil {
		c.log.Error().Err(err).Msg("Failed to invalidate identity")
	}
}

// View returns a copy of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		Seq:            c.seq,
		State:          c.state,
		TestID:         c.testID,
		Cursor:         c.cursor,
		ConfirmPending: c.confirmPending,
		ExitPending:    c.exitPending,
		LastError:      c.lastError,
		TimeLeft:       countdown.Format(0),
	}
	if c.identity != nil {
		v.Taker = &TakerView{FullName: c.identity.FullName, Email: c.identity.Email}
	}
	if c.def == nil {
		return v
	}

	v.TestTitle = c.def.Title
	v.Total = len(c.def.Questions)
	v.QuestionIDs = make([]string, v.Total)
	for i, q := range c.def.Questions {
		v.QuestionIDs[i] = q.ID
	}
	q := c.def.Questions[c.cursor]
	v.Question = &q
	v.Answers = c.answers.Clone()
	v.Answered = len(c.answers)
	v.Unanswered = v.Total - v.Answered
	v.Percent = int(math.Round(float64(v.Answered) / float64(v.Total) * 100))
	if c.timer != nil {
		remaining := c.timer.Remaining()
		v.TimeLeftMs = remaining.Milliseconds()
		v.TimeLeft = countdown.Format(remaining)
		v.Running = c.timer.IsRunning()
	}
	return v
}

func (c *Controller) notify() {
	if c.observer == nil {
		return
	}
	c.observer(c.View())
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.seq++
}

// editableLocked reports whether edits and submission triggers are accepted.
func (c *Controller) editableLocked() error {
	switch {
	case c.state == StateSubmitted:
		return ErrNotEditable
	case c.submissionInFlight:
		return ErrSubmissionInFlight
	case c.state != StateInProgress:
		return ErrNotEditable
	}
	return nil
}

func (c *Controller) pauseLocked() {
	if c.timer != nil {
		c.timer.Pause()
	}
}

// resumeLocked restarts the countdown when nothing holds it paused.
func (c *Controller) resumeLocked() {
	if c.timer == nil || c.closed || c.state != StateInProgress || c.submissionInFlight {
		return
	}
	if c.confirmPending || c.exitPending {
		return
	}
	c.timer.Start()
}

func (c *Controller) saveLocked() {
	if c.def == nil || c.timer == nil {
		return
	}
	c.deps.Progress.Save(c.bg, c.testID, model.ProgressSnapshot{
		Answers:              c.answers.Clone(),
		CurrentQuestionIndex: c.cursor,
		TimeLeftMs:           c.timer.Remaining().Milliseconds(),
	})
}
