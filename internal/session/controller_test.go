package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/countdown"
	"github.com/stemsi/exstem-session/internal/grading"
	"github.com/stemsi/exstem-session/internal/identity"
	"github.com/stemsi/exstem-session/internal/ledger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/progress"
	"github.com/stemsi/exstem-session/internal/storage"
)

const testID = "t1"

func testDefinition() *model.TestDefinition {
	return &model.TestDefinition{
		ID:         testID,
		Title:      "Algebra",
		DurationMs: 3000,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, Text: "2+2?", Options: []string{"1", "2", "4", "8"}, Marks: 1},
			{ID: "q2", Type: model.QuestionTypeShort, Text: "Name a prime", Marks: 1},
			{ID: "q3", Type: model.QuestionTypeMulti, Text: "Even numbers", Options: []string{"2", "3", "4"}, Marks: 2},
			{ID: "q4", Type: model.QuestionTypeTF, Text: "1 > 0", Marks: 1},
		},
	}
}

// --- fakes ---

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

// manualClock keeps the most recent ticker an engine asked for.
type manualClock struct {
	mu     sync.Mutex
	latest *manualTicker
}

func (c *manualClock) factory(time.Duration) countdown.Ticker {
	t := &manualTicker{ch: make(chan time.Time)}
	c.mu.Lock()
	c.latest = t
	c.mu.Unlock()
	return t
}

func (c *manualClock) tick(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	tk := c.latest
	c.mu.Unlock()
	if tk == nil {
		t.Fatal("no countdown is running")
	}
	select {
	case tk.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

type navError struct {
	message   string
	retryable bool
}

type fakeNavigator struct {
	auth    chan string
	errs    chan navError
	success chan model.SubmissionReceipt
	home    chan struct{}
}

func newFakeNavigator() *fakeNavigator {
	return &fakeNavigator{
		auth:    make(chan string, 8),
		errs:    make(chan navError, 8),
		success: make(chan model.SubmissionReceipt, 8),
		home:    make(chan struct{}, 8),
	}
}

func (n *fakeNavigator) RequireAuthentication(testID string) { n.auth <- testID }
func (n *fakeNavigator) ShowError(message string, retryable bool) {
	n.errs <- navError{message: message, retryable: retryable}
}
func (n *fakeNavigator) ShowSubmissionSuccess(r model.SubmissionReceipt) { n.success <- r }
func (n *fakeNavigator) ShowHome()                                      { n.home <- struct{}{} }

type fakeCatalog struct {
	mu    sync.Mutex
	def   *model.TestDefinition
	err   error
	calls int
}

func (f *fakeCatalog) FetchTestByID(context.Context, string) (*model.TestDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.def, nil
}

func (f *fakeCatalog) set(def *model.TestDefinition, err error) {
	f.mu.Lock()
	f.def, f.err = def, err
	f.mu.Unlock()
}

func (f *fakeCatalog) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGrader struct {
	mu       sync.Mutex
	payloads []string
	results  []model.SubmissionResult
	started  chan struct{}
	release  chan struct{}
}

func newFakeGrader(results ...model.SubmissionResult) *fakeGrader {
	return &fakeGrader{results: results, started: make(chan struct{}, 16)}
}

func (g *fakeGrader) Submit(_ context.Context, _ string, ident model.TestIdentity, answers model.AnswerMap) model.SubmissionResult {
	body, _ := json.Marshal(model.NewSubmissionPayload(ident, answers))
	g.mu.Lock()
	g.payloads = append(g.payloads, string(body))
	var res model.SubmissionResult
	if len(g.results) > 0 {
		res = g.results[0]
		g.results = g.results[1:]
	} else {
		res = model.SubmissionResult{SubmissionID: "S1"}
	}
	release := g.release
	g.mu.Unlock()

	g.started <- struct{}{}
	if release != nil {
		<-release
	}
	return res
}

func (g *fakeGrader) sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.payloads...)
}

type harness struct {
	medium  *storage.MemoryMedium
	gate    *identity.Gate
	store   *progress.MediumStore
	catalog *fakeCatalog
	grader  *fakeGrader
	ledger  *ledger.MemoryLedger
	nav     *fakeNavigator
	clock   *manualClock
	ctrl    *Controller
}

func newHarness(t *testing.T, grader *fakeGrader, opts ...Option) *harness {
	t.Helper()
	medium := storage.NewMemoryMedium()
	h := &harness{
		medium:  medium,
		gate:    identity.NewGate(medium, nil, zerolog.Nop()),
		store:   progress.NewStore(medium, nil, zerolog.Nop()),
		catalog: &fakeCatalog{def: testDefinition()},
		grader:  grader,
		ledger:  ledger.NewMemoryLedger(),
		nav:     newFakeNavigator(),
		clock:   &manualClock{},
	}
	h.ctrl = New(testID, Deps{
		Identity:  h.gate,
		Catalog:   h.catalog,
		Progress:  h.store,
		Grading:   h.grader,
		Ledger:    h.ledger,
		Navigator: h.nav,
	}, append([]Option{WithCountdownOptions(countdown.WithTicker(h.clock.factory))}, opts...)...)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) issue(t *testing.T) *model.TestIdentity {
	t.Helper()
	ident, err := h.gate.Issue(context.Background(), testID, "Ada Lovelace", "ada@example.com", "ada@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return ident
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for navigation")
		var zero T
		return zero
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func assertNoEvent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected navigation %+v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

// --- tests ---

func TestHappyPath(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	ident := h.issue(t)
	h.open(t)

	v := h.ctrl.View()
	if v.State != StateInProgress || v.TimeLeftMs != 3000 || !v.Running || v.Cursor != 0 {
		t.Fatalf("View() after Open = %+v", v)
	}

	if err := h.ctrl.SelectOption("q1", 2); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.SetText("q2", "7"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.RequestSubmit(); err != nil {
		t.Fatal(err)
	}
	if v := h.ctrl.View(); v.Running || !v.ConfirmPending {
		t.Fatalf("RequestSubmit did not pause: %+v", v)
	}
	if err := h.ctrl.ConfirmSubmit(context.Background()); err != nil {
		t.Fatalf("ConfirmSubmit() error = %v", err)
	}

	receipt := waitFor(t, h.nav.success)
	if receipt.SubmissionID != "S1" || receipt.AutoSubmitted || receipt.TestTitle != "Algebra" || receipt.TakerName != "Ada Lovelace" {
		t.Fatalf("receipt = %+v", receipt)
	}

	sent := h.grader.sent()
	want := `{"takerName":"Ada Lovelace","takerEmail":"ada@example.com","answers":{"q1":2,"q2":"7"}}`
	if len(sent) != 1 || sent[0] != want {
		t.Fatalf("payloads = %v, want [%s]", sent, want)
	}

	ctx := context.Background()
	if _, ok := h.store.Load(ctx, testID); ok {
		t.Fatal("progress survived submission")
	}
	if _, err := h.gate.Admit(ctx, testID); !errors.Is(err, identity.ErrAuthenticationRequired) {
		t.Fatalf("identity survived submission: %v", err)
	}
	if rec, err := h.ledger.Lookup(ctx, testID, ident.AttemptID); err != nil || rec.SubmissionID != "S1" {
		t.Fatalf("ledger entry = %+v, %v", rec, err)
	}
	if v := h.ctrl.View(); v.State != StateSubmitted {
		t.Fatalf("state = %s, want submitted", v.State)
	}
	if err := h.ctrl.SetText("q2", "11"); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("edit after submission = %v, want ErrNotEditable", err)
	}
}

func TestExpiryAutoSubmitsEmptyAnswers(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.open(t)

	for range 3 {
		h.clock.tick(t)
	}

	receipt := waitFor(t, h.nav.success)
	if !receipt.AutoSubmitted {
		t.Fatal("receipt not marked auto-submitted")
	}
	sent := h.grader.sent()
	want := `{"takerName":"Ada Lovelace","takerEmail":"ada@example.com","answers":{}}`
	if len(sent) != 1 || sent[0] != want {
		t.Fatalf("payloads = %v, want [%s]", sent, want)
	}
}

func TestTicksPersistTimeLeft(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.open(t)

	h.clock.tick(t)
	eventually(t, func() bool {
		snap, ok := h.store.Load(context.Background(), testID)
		return ok && snap.TimeLeftMs == 2000
	})
}

func TestResumeFromSnapshot(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.store.Save(context.Background(), testID, model.ProgressSnapshot{
		Answers: model.AnswerMap{
			"q2":    model.TextAnswer("x"),
			"ghost": model.TextAnswer("dropped"),
		},
		CurrentQuestionIndex: 1,
		TimeLeftMs:           120000,
	})

	h.open(t)
	v := h.ctrl.View()
	if v.Cursor != 1 || v.TimeLeftMs != 120000 || v.TimeLeft != "02:00" {
		t.Fatalf("View() = cursor %d, time %d (%s)", v.Cursor, v.TimeLeftMs, v.TimeLeft)
	}
	if s, _ := v.Answers["q2"].Text(); s != "x" || len(v.Answers) != 1 {
		t.Fatalf("restored answers = %v", v.Answers)
	}
	if v.Question == nil || v.Question.ID != "q2" {
		t.Fatalf("current question = %+v", v.Question)
	}
}

func TestRestoredSnapshotWithoutTimeSubmitsImmediately(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.store.Save(context.Background(), testID, model.ProgressSnapshot{
		Answers:    model.AnswerMap{"q4": model.TextAnswer("true")},
		TimeLeftMs: 0,
	})

	h.open(t)
	receipt := waitFor(t, h.nav.success)
	if !receipt.AutoSubmitted {
		t.Fatal("expected automatic submission")
	}
	if sent := h.grader.sent(); len(sent) != 1 {
		t.Fatalf("payloads = %v", sent)
	}
}

func TestSubmissionFailureThenRetry(t *testing.T) {
	failure := &grading.SubmissionError{Kind: grading.KindServer, Status: 500, Message: "db down"}
	h := newHarness(t, newFakeGrader(model.SubmissionResult{Err: failure}))
	h.issue(t)
	h.open(t)
	_ = h.ctrl.SelectOption("q1", 1)

	_ = h.ctrl.RequestSubmit()
	err := h.ctrl.ConfirmSubmit(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("ConfirmSubmit() error = %v, want grading failure", err)
	}

	shown := waitFor(t, h.nav.errs)
	if shown.message != "Failed to submit test: db down" || !shown.retryable {
		t.Fatalf("ShowError = %+v", shown)
	}
	v := h.ctrl.View()
	if v.State != StateInProgress || v.LastError != shown.message || !v.Running {
		t.Fatalf("View() after failure = %+v", v)
	}
	if _, ok := h.store.Load(context.Background(), testID); !ok {
		t.Fatal("progress cleared after failed submission")
	}

	if err := h.ctrl.ConfirmSubmit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ConfirmSubmit() without a new intent = %v, want ErrInvalidTransition", err)
	}
	_ = h.ctrl.RequestSubmit()
	if err := h.ctrl.ConfirmSubmit(context.Background()); err != nil {
		t.Fatalf("retry ConfirmSubmit() error = %v", err)
	}
	waitFor(t, h.nav.success)
	if sent := h.grader.sent(); len(sent) != 2 || sent[0] != sent[1] {
		t.Fatalf("payloads = %v, want two identical attempts", sent)
	}
}

func TestExpiryFailureKeepsCountdownStopped(t *testing.T) {
	failure := &grading.SubmissionError{Kind: grading.KindNetwork, Message: "connection refused"}
	h := newHarness(t, newFakeGrader(model.SubmissionResult{Err: failure}))
	h.issue(t)
	h.open(t)

	for range 3 {
		h.clock.tick(t)
	}
	shown := waitFor(t, h.nav.errs)
	if shown.message != "Auto-submission failed: connection refused" {
		t.Fatalf("ShowError = %+v", shown)
	}
	if v := h.ctrl.View(); v.Running || v.State != StateInProgress || v.TimeLeftMs != 0 {
		t.Fatalf("View() after failed auto-submit = %+v", v)
	}

	if err := h.ctrl.RequestSubmit(); err != nil {
		t.Fatalf("RequestSubmit() after failed auto-submit = %v", err)
	}
	if err := h.ctrl.ConfirmSubmit(context.Background()); err != nil {
		t.Fatalf("manual retry error = %v", err)
	}
	if receipt := waitFor(t, h.nav.success); receipt.AutoSubmitted {
		t.Fatal("manual retry marked auto-submitted")
	}
}

func TestExpiryAndManualRaceSendOnePayload(t *testing.T) {
	grader := newFakeGrader()
	grader.release = make(chan struct{})
	h := newHarness(t, grader)
	h.issue(t)
	h.store.Save(context.Background(), testID, model.ProgressSnapshot{TimeLeftMs: 1000})
	h.open(t)

	h.clock.tick(t)
	waitFor(t, grader.started)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.ctrl.ConfirmSubmit(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrSubmissionInFlight) {
			t.Fatalf("losing trigger error = %v, want ErrSubmissionInFlight", err)
		}
	}

	close(grader.release)
	if receipt := waitFor(t, h.nav.success); !receipt.AutoSubmitted {
		t.Fatal("expiry trigger should have won")
	}
	if sent := grader.sent(); len(sent) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(sent))
	}
}

func TestConcurrentManualTriggersSendOnePayload(t *testing.T) {
	grader := newFakeGrader()
	grader.release = make(chan struct{})
	h := newHarness(t, grader)
	h.issue(t)
	h.open(t)

	if err := h.ctrl.RequestSubmit(); err != nil {
		t.Fatal(err)
	}
	results := make(chan error, 8)
	for range 8 {
		go func() { results <- h.ctrl.ConfirmSubmit(context.Background()) }()
	}
	waitFor(t, grader.started)
	close(grader.release)

	var ok, inFlight int
	for range 8 {
		switch err := waitFor(t, results); {
		case err == nil:
			ok++
		case errors.Is(err, ErrSubmissionInFlight), errors.Is(err, ErrNotEditable):
			inFlight++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || inFlight != 7 {
		t.Fatalf("ok=%d rejected=%d, want 1/7", ok, inFlight)
	}
	if sent := grader.sent(); len(sent) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(sent))
	}
}

func TestOpenWithoutIdentityRequiresAuthentication(t *testing.T) {
	h := newHarness(t, newFakeGrader())

	err := h.ctrl.Open(context.Background())
	if !errors.Is(err, identity.ErrAuthenticationRequired) {
		t.Fatalf("Open() error = %v", err)
	}
	if got := waitFor(t, h.nav.auth); got != testID {
		t.Fatalf("RequireAuthentication(%q)", got)
	}
	if v := h.ctrl.View(); v.State != StateUnauthenticated {
		t.Fatalf("state = %s", v.State)
	}
	if h.catalog.callCount() != 0 {
		t.Fatal("catalog fetched without an identity")
	}
	assertNoEvent(t, h.nav.errs)
}

func TestCatalogFailureIsRetryable(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.catalog.set(nil, errors.New("catalog unavailable"))

	if err := h.ctrl.Open(context.Background()); err == nil {
		t.Fatal("Open() succeeded with a failing catalog")
	}
	if shown := waitFor(t, h.nav.errs); !shown.retryable {
		t.Fatalf("ShowError = %+v, want retryable", shown)
	}
	if v := h.ctrl.View(); v.State != StateError {
		t.Fatalf("state = %s, want error", v.State)
	}

	h.catalog.set(testDefinition(), nil)
	if err := h.ctrl.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if v := h.ctrl.View(); v.State != StateInProgress || v.LastError != "" {
		t.Fatalf("View() after retry = %+v", v)
	}

	h.ctrl.Home()
	waitFor(t, h.nav.home)
	if h.ctrl.View().Running {
		t.Fatal("countdown still running after going home")
	}
}

func TestLedgerRecovery(t *testing.T) {
	t.Run("acknowledged for this attempt", func(t *testing.T) {
		h := newHarness(t, newFakeGrader())
		ident := h.issue(t)
		ctx := context.Background()
		h.store.Save(ctx, testID, model.ProgressSnapshot{TimeLeftMs: 1000})
		_ = h.ledger.Record(ctx, model.SubmissionRecord{
			TestID:       testID,
			AttemptID:    ident.AttemptID,
			TakerEmail:   ident.Email,
			TakerName:    ident.FullName,
			SubmissionID: "S9",
			TestTitle:    "Algebra",
			SubmittedAt:  ident.IssuedAt.Add(time.Minute),
		})

		h.open(t)
		if receipt := waitFor(t, h.nav.success); receipt.SubmissionID != "S9" {
			t.Fatalf("receipt = %+v", receipt)
		}
		if h.catalog.callCount() != 0 || len(h.grader.sent()) != 0 {
			t.Fatal("recovered attempt was loaded or resubmitted")
		}
		if _, ok := h.store.Load(ctx, testID); ok {
			t.Fatal("progress not cleared on recovery")
		}
		if _, err := h.gate.Admit(ctx, testID); err == nil {
			t.Fatal("identity not invalidated on recovery")
		}
	})

	t.Run("entry from a replaced identity", func(t *testing.T) {
		h := newHarness(t, newFakeGrader())
		earlier := h.issue(t)
		_ = h.ledger.Record(context.Background(), model.SubmissionRecord{
			TestID:       testID,
			AttemptID:    earlier.AttemptID,
			TakerEmail:   earlier.Email,
			SubmissionID: "S8",
			SubmittedAt:  earlier.IssuedAt.Add(time.Minute),
		})
		if current := h.issue(t); current.AttemptID == earlier.AttemptID {
			t.Fatal("re-issued identity kept its attempt id")
		}

		h.open(t)
		if v := h.ctrl.View(); v.State != StateInProgress {
			t.Fatalf("state = %s, want in_progress", v.State)
		}
		assertNoEvent(t, h.nav.success)
	})

	t.Run("another attempt with the same email", func(t *testing.T) {
		h := newHarness(t, newFakeGrader())
		ident := h.issue(t)
		ctx := context.Background()
		h.store.Save(ctx, testID, model.ProgressSnapshot{
			Answers:    model.AnswerMap{"q1": model.IndexAnswer(2)},
			TimeLeftMs: 2000,
		})
		_ = h.ledger.Record(ctx, model.SubmissionRecord{
			TestID:       testID,
			AttemptID:    "other-attempt",
			TakerEmail:   ident.Email,
			TakerName:    "Mallory",
			SubmissionID: "S7",
			SubmittedAt:  ident.IssuedAt.Add(time.Minute),
		})

		h.open(t)
		v := h.ctrl.View()
		if v.State != StateInProgress || v.Answered != 1 || v.TimeLeftMs != 2000 {
			t.Fatalf("View() = %+v, want the resumed attempt", v)
		}
		assertNoEvent(t, h.nav.success)
		if _, err := h.gate.Admit(ctx, testID); err != nil {
			t.Fatalf("identity removed by another attempt's entry: %v", err)
		}
	})
}

func TestConfirmSubmitRequiresIntent(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.open(t)

	if err := h.ctrl.ConfirmSubmit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ConfirmSubmit() = %v, want ErrInvalidTransition", err)
	}
	_ = h.ctrl.RequestSubmit()
	_ = h.ctrl.CancelSubmit()
	if err := h.ctrl.ConfirmSubmit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ConfirmSubmit() after cancel = %v, want ErrInvalidTransition", err)
	}
	if sent := h.grader.sent(); len(sent) != 0 {
		t.Fatalf("payloads = %v, want none", sent)
	}
	if v := h.ctrl.View(); v.State != StateInProgress || !v.Running {
		t.Fatalf("View() = %+v", v)
	}
}

func TestQueuedExpiryAfterFailedManualSubmission(t *testing.T) {
	// Holds the tick goroutine after the final decrement so the expiry
	// callback is delivered only after the manual submission has failed.
	reached := make(chan struct{})
	release := make(chan struct{})
	var held atomic.Bool
	observer := func(v View) {
		if v.State == StateInProgress && v.TimeLeftMs == 0 && held.CompareAndSwap(false, true) {
			close(reached)
			<-release
		}
	}

	failure := &grading.SubmissionError{Kind: grading.KindServer, Status: 502, Message: "bad gateway"}
	h := newHarness(t, newFakeGrader(model.SubmissionResult{Err: failure}), WithObserver(observer))
	h.issue(t)
	h.store.Save(context.Background(), testID, model.ProgressSnapshot{TimeLeftMs: 1000})
	h.open(t)

	h.clock.tick(t)
	waitFor(t, reached)

	if err := h.ctrl.RequestSubmit(); err != nil {
		t.Fatalf("RequestSubmit() = %v", err)
	}
	if err := h.ctrl.ConfirmSubmit(context.Background()); !errors.Is(err, failure) {
		t.Fatalf("ConfirmSubmit() = %v, want grading failure", err)
	}
	waitFor(t, h.grader.started)
	if shown := waitFor(t, h.nav.errs); shown.message != "Failed to submit test: bad gateway" {
		t.Fatalf("ShowError = %+v", shown)
	}

	close(release)
	assertNoEvent(t, h.grader.started)
	assertNoEvent(t, h.nav.errs)
	if sent := h.grader.sent(); len(sent) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(sent))
	}
	if v := h.ctrl.View(); v.State != StateInProgress || v.Running {
		t.Fatalf("View() = %+v", v)
	}
}

func TestEditsAreValidated(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.open(t)

	tests := []struct {
		name string
		edit func() error
		want error
	}{
		{"mcq out of range", func() error { return h.ctrl.SelectOption("q1", 4) }, ErrInvalidAnswer},
		{"mcq given text", func() error { return h.ctrl.SetText("q1", "2") }, ErrInvalidAnswer},
		{"tf not boolean", func() error { return h.ctrl.SetText("q4", "yes") }, ErrInvalidAnswer},
		{"multi out of range", func() error { return h.ctrl.ToggleOption("q3", 3, true) }, ErrInvalidAnswer},
		{"short given option", func() error { return h.ctrl.SelectOption("q2", 0) }, ErrInvalidAnswer},
		{"unknown question", func() error { return h.ctrl.SetText("q9", "x") }, ErrUnknownQuestion},
		{"goto past end", func() error { return h.ctrl.GoTo(4) }, ErrOutOfRange},
		{"goto negative", func() error { return h.ctrl.GoTo(-1) }, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.edit(); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if v := h.ctrl.View(); v.Answered != 0 || v.Cursor != 0 {
		t.Fatalf("rejected edits changed state: %+v", v)
	}
}

func TestEditsAndNavigation(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.open(t)
	ctx := context.Background()

	_ = h.ctrl.ToggleOption("q3", 2, true)
	_ = h.ctrl.ToggleOption("q3", 0, true)
	_ = h.ctrl.ToggleOption("q3", 2, false)
	ix, _ := h.ctrl.View().Answers["q3"].Indices()
	if len(ix) != 1 || ix[0] != 0 {
		t.Fatalf("multi answer = %v, want [0]", ix)
	}
	_ = h.ctrl.ToggleOption("q3", 0, false)
	if _, ok := h.ctrl.View().Answers["q3"]; ok {
		t.Fatal("empty option set was kept")
	}

	_ = h.ctrl.SetText("q2", "7")
	_ = h.ctrl.SetText("q2", "")
	if _, ok := h.ctrl.View().Answers["q2"]; ok {
		t.Fatal("empty text was kept")
	}

	_ = h.ctrl.SetText("q4", "false")
	_ = h.ctrl.SelectOption("q1", 3)
	v := h.ctrl.View()
	if v.Answered != 2 || v.Unanswered != 2 || v.Percent != 50 {
		t.Fatalf("progress = %d/%d (%d%%)", v.Answered, v.Total, v.Percent)
	}
	_ = h.ctrl.ClearAnswer("q1")
	if h.ctrl.View().Answered != 1 {
		t.Fatal("ClearAnswer did not remove the answer")
	}

	_ = h.ctrl.Previous()
	if h.ctrl.View().Cursor != 0 {
		t.Fatal("Previous wrapped past the first question")
	}
	_ = h.ctrl.GoTo(3)
	_ = h.ctrl.Next()
	if h.ctrl.View().Cursor != 3 {
		t.Fatal("Next wrapped past the last question")
	}
	_ = h.ctrl.Previous()

	snap, ok := h.store.Load(ctx, testID)
	if !ok || snap.CurrentQuestionIndex != 2 {
		t.Fatalf("snapshot = %+v, %v; want cursor 2", snap, ok)
	}
	if s, _ := snap.Answers["q4"].Text(); s != "false" || len(snap.Answers) != 1 {
		t.Fatalf("snapshot answers = %v", snap.Answers)
	}
}

func TestDialogsPauseWithoutChangingState(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.open(t)

	if err := h.ctrl.Exit(); err != nil {
		t.Fatal(err)
	}
	if v := h.ctrl.View(); v.Running || !v.ExitPending || v.State != StateInProgress {
		t.Fatalf("View() after Exit = %+v", v)
	}
	if err := h.ctrl.Continue(); err != nil {
		t.Fatal(err)
	}
	if v := h.ctrl.View(); !v.Running || v.ExitPending {
		t.Fatalf("View() after Continue = %+v", v)
	}

	_ = h.ctrl.RequestSubmit()
	_ = h.ctrl.CancelSubmit()
	if v := h.ctrl.View(); !v.Running || v.ConfirmPending {
		t.Fatalf("View() after CancelSubmit = %+v", v)
	}
	if err := h.ctrl.CancelSubmit(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("CancelSubmit() without dialog = %v", err)
	}

	_ = h.ctrl.SelectOption("q1", 2)
	_ = h.ctrl.Exit()
	h.ctrl.Abandon()
	waitFor(t, h.nav.home)
	if v := h.ctrl.View(); v.Running || v.State != StateInProgress {
		t.Fatalf("View() after Abandon = %+v", v)
	}
	if snap, ok := h.store.Load(context.Background(), testID); !ok || len(snap.Answers) != 1 {
		t.Fatal("Abandon discarded progress")
	}
}

func TestCloseKeepsSnapshotAndStopsCountdown(t *testing.T) {
	h := newHarness(t, newFakeGrader())
	h.issue(t)
	h.open(t)
	_ = h.ctrl.SetText("q2", "13")
	h.clock.tick(t)
	eventually(t, func() bool { return h.ctrl.View().TimeLeftMs == 2000 })

	_ = h.ctrl.Exit()
	h.ctrl.Close()
	if h.ctrl.View().Running {
		t.Fatal("countdown running after Close")
	}
	_ = h.ctrl.Continue()
	if h.ctrl.View().Running {
		t.Fatal("countdown restarted on a closed session")
	}
	snap, ok := h.store.Load(context.Background(), testID)
	if !ok || snap.TimeLeftMs != 2000 {
		t.Fatalf("snapshot after Close = %+v, %v", snap, ok)
	}
}
