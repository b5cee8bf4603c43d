package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/ledger"
	"github.com/taskhive/hookbridge/internal/signature"
)

// scriptedSender returns canned results (or panics) per subscription id.
type scriptedSender struct {
	results map[string]Result
	panics  map[string]bool
	calls   atomic.Int32
}

func (s *scriptedSender) Deliver(_ context.Context, req Request) (Result, error) {
	s.calls.Add(1)
	if s.panics[req.SubscriptionID] {
		panic("endpoint handler blew up")
	}
	res := s.results[req.SubscriptionID]
	res.SubscriptionID = req.SubscriptionID
	return res, nil
}

func testDispatcher(sender Sender) *Dispatcher {
	gate := NewGate(newStubStore(), testLogger())
	return NewDispatcher(sender, gate, Defaults{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		AttemptTimeout: time.Second,
	}, testLogger())
}

func subs(n int) []domain.Subscription {
	out := make([]domain.Subscription, n)
	for i := range out {
		sub := activeSubscription()
		sub.ID = "sub-" + string(rune('a'+i))
		out[i] = sub
	}
	return out
}

func TestDispatch_ResultsPreserveInputOrder(t *testing.T) {
	sender := &scriptedSender{results: map[string]Result{
		"sub-a": {Status: ResultSuccess, Attempts: 1},
		"sub-b": {Status: ResultFailed, Attempts: 3, Error: "endpoint returned 500"},
		"sub-c": {Status: ResultSuccess, Attempts: 2},
	}}

	results := testDispatcher(sender).Dispatch(context.Background(),
		domain.EventTaskAssigned, "task-7", json.RawMessage(`{}`), subs(3))

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, wantID := range []string{"sub-a", "sub-b", "sub-c"} {
		if results[i].SubscriptionID != wantID {
			t.Errorf("results[%d] = %q, want %q", i, results[i].SubscriptionID, wantID)
		}
	}
	if results[1].Status != ResultFailed {
		t.Errorf("middle recipient status = %q, want failed", results[1].Status)
	}
}

func TestDispatch_PanicIsIsolated(t *testing.T) {
	sender := &scriptedSender{
		results: map[string]Result{
			"sub-a": {Status: ResultSuccess, Attempts: 1},
			"sub-c": {Status: ResultSuccess, Attempts: 1},
		},
		panics: map[string]bool{"sub-b": true},
	}

	results := testDispatcher(sender).Dispatch(context.Background(),
		domain.EventTaskAssigned, "task-7", json.RawMessage(`{}`), subs(3))

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3 despite the panic", len(results))
	}
	if results[0].Status != ResultSuccess || results[2].Status != ResultSuccess {
		t.Errorf("neighbors of a panicking delivery must keep their outcomes: %+v", results)
	}
	if results[1].Status != ResultFailed || results[1].Error == "" {
		t.Errorf("panicking recipient should be reported failed with a reason: %+v", results[1])
	}
}

func TestDispatch_IneligibleRecipientsAreReportedSkipped(t *testing.T) {
	sender := &scriptedSender{results: map[string]Result{
		"sub-a": {Status: ResultSuccess, Attempts: 1},
		"sub-c": {Status: ResultSuccess, Attempts: 1},
	}}

	recipients := subs(3)
	recipients[1].Enabled = false

	results := testDispatcher(sender).Dispatch(context.Background(),
		domain.EventTaskAssigned, "task-7", json.RawMessage(`{}`), recipients)

	if len(results) != 3 {
		t.Fatalf("skipped recipients must not be omitted, got %d results", len(results))
	}
	if results[1].Status != ResultSkipped {
		t.Errorf("results[1].Status = %q, want skipped", results[1].Status)
	}
	if results[1].Error != "subscription disabled" {
		t.Errorf("skip reason = %q", results[1].Error)
	}
	if sender.calls.Load() != 2 {
		t.Errorf("sender called %d times, want 2", sender.calls.Load())
	}
}

func TestDispatch_ConfigErrorDoesNotFeedBreaker(t *testing.T) {
	store := newStubStore()
	gate := NewGate(store, testLogger())

	repo := ledger.NewMemoryRepository()
	deliverer := NewDeliverer(ledger.New(repo, testLogger()), testLogger())
	dispatcher := NewDispatcher(deliverer, gate, Defaults{MaxAttempts: 1, InitialBackoff: time.Millisecond, AttemptTimeout: time.Second}, testLogger())

	recipients := subs(1)
	recipients[0].EndpointURL = "" // misconfigured

	results := dispatcher.Dispatch(context.Background(),
		domain.EventTaskAssigned, "task-7", json.RawMessage(`{}`), recipients)

	if results[0].Status != ResultFailed {
		t.Errorf("status = %q, want failed", results[0].Status)
	}
	store.mu.Lock()
	count := store.failures[recipients[0].ID]
	store.mu.Unlock()
	if count != 0 {
		t.Errorf("configuration errors must not count toward the breaker, got %d", count)
	}
}

// TestDispatch_EndToEnd walks the full outbound path: a subscribed owner,
// a live endpoint, a verified signature, and a success row in the ledger.
func TestDispatch_EndToEnd(t *testing.T) {
	var gotEvent, gotTimestamp, gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Event")
		gotTimestamp = r.Header.Get("X-Timestamp")
		gotSignature = r.Header.Get("X-Signature")
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := ledger.NewMemoryRepository()
	deliverer := NewDeliverer(ledger.New(repo, testLogger()), testLogger())
	gate := NewGate(newStubStore(), testLogger())
	dispatcher := NewDispatcher(deliverer, gate, Defaults{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}, testLogger())

	recipients := []domain.Subscription{{
		ID:                     "sub-e2e",
		OwnerID:                "owner-e2e",
		EndpointURL:            server.URL,
		Secret:                 "s3cr3t",
		Enabled:                true,
		Events:                 []string{domain.EventTaskAssigned},
		MaxConsecutiveFailures: 3,
	}}

	results := dispatcher.Dispatch(context.Background(),
		domain.EventTaskAssigned, "task-42", json.RawMessage(`{"assignee":"u-9"}`), recipients)

	if len(results) != 1 || results[0].Status != ResultSuccess {
		t.Fatalf("results = %+v, want one success", results)
	}

	if gotEvent != domain.EventTaskAssigned {
		t.Errorf("X-Event = %q, want %q", gotEvent, domain.EventTaskAssigned)
	}
	sig, ok := signature.ParseHeader(gotSignature)
	if !ok {
		t.Fatalf("X-Signature = %q", gotSignature)
	}
	if err := signature.Verify(gotBody, sig, "s3cr3t", gotTimestamp, 0); err != nil {
		t.Errorf("endpoint could not verify signature: %v", err)
	}

	recs, err := repo.ListRecent(context.Background(), "owner-e2e", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(recs))
	}
	if recs[0].Status != domain.DeliveryStatusSuccess || recs[0].AttemptsMade != 1 {
		t.Errorf("ledger record = (%s, %d attempts), want (success, 1)", recs[0].Status, recs[0].AttemptsMade)
	}
}
