package ledger_test

import (
	"errors"
	"testing"
	"time"

	"issuelab/internal/domain"
	"issuelab/internal/ledger"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open()
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendEventAssignsMonotonicSeq(t *testing.T) {
	l := openLedger(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var last int64
	for i, id := range []string{"a", "b", "c"} {
		evt := domain.Event{ID: id, Type: domain.EventIssueCreated, Payload: []byte(`{}`), TS: ts}
		if err := l.AppendEvent(&evt); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if evt.Seq <= last {
			t.Fatalf("seq %d not increasing after %d", evt.Seq, last)
		}
		last = evt.Seq
	}

	events, err := l.ListEvents(0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 || events[0].ID != "a" || events[2].ID != "c" {
		t.Fatalf("list order wrong: %+v", events)
	}

	after, err := l.ListEvents(events[0].Seq, 0)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after) != 2 || after[0].ID != "b" {
		t.Fatalf("cursor read wrong: %+v", after)
	}
}

func TestEventRoundTripPreservesPayloadAndTime(t *testing.T) {
	l := openLedger(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	evt := domain.Event{ID: "evt-1", Type: domain.EventCommentCreated, Payload: []byte(`{"comment":{"id":1}}`), TS: ts}
	if err := l.AppendEvent(&evt); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := l.GetEvent("evt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != string(evt.Payload) {
		t.Fatalf("payload changed: %s", got.Payload)
	}
	if !got.TS.Equal(ts) {
		t.Fatalf("ts = %s, want %s", got.TS, ts)
	}
}

func TestDeliveryLifecycle(t *testing.T) {
	l := openLedger(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.DeliveryRecord{
		WebhookID: 7,
		URL:       "http://listener.test/hook",
		EventID:   "evt-1",
		EventType: domain.EventIssueCreated,
		Payload:   []byte(`{}`),
		Secret:    "s3cret",
		Status:    domain.DeliveryPending,
		Created:   now,
		Updated:   now,
	}
	if err := l.InsertDelivery(&rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("insert did not assign id")
	}

	rec.Status = domain.DeliveryDelivered
	rec.Attempts = 2
	rec.LastStatusCode = 200
	rec.Updated = now.Add(time.Second)
	if err := l.UpdateDelivery(&rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := l.GetDelivery(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.DeliveryDelivered || got.Attempts != 2 || got.LastStatusCode != 200 {
		t.Fatalf("round trip wrong: %+v", got)
	}
	if got.Secret != "s3cret" || got.URL != "http://listener.test/hook" {
		t.Fatalf("snapshot fields lost: %+v", got)
	}
}

func TestListDeliveriesFiltersByWebhook(t *testing.T) {
	l := openLedger(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, wid := range []int64{1, 2, 1} {
		rec := domain.DeliveryRecord{
			WebhookID: wid, URL: "http://x.test", EventID: "e", EventType: domain.EventIssueCreated,
			Payload: []byte(`{}`), Status: domain.DeliveryPending, Created: now, Updated: now,
		}
		if err := l.InsertDelivery(&rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	recs, err := l.ListDeliveries(1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records for webhook 1, want 2", len(recs))
	}
	if recs[0].ID < recs[1].ID {
		t.Fatal("list must be newest first")
	}
}

func TestNotFound(t *testing.T) {
	l := openLedger(t)
	if _, err := l.GetDelivery(99); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("get missing delivery: %v", err)
	}
	if _, err := l.GetEvent("nope"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("get missing event: %v", err)
	}
	rec := domain.DeliveryRecord{ID: 42, Updated: time.Now()}
	if err := l.UpdateDelivery(&rec); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("update missing delivery: %v", err)
	}
}
