package scan

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestCollectorCounts(t *testing.T) {
	events := make(chan Event)
	collector := NewCollector()

	done := make(chan struct{})
	go func() {
		defer close(done)
		collector.Run(context.Background(), events)
	}()

	fetchErr := fmt.Errorf("timeout talking to sieved")
	for _, evt := range []Event{
		{Type: EventTypeFlagged, Mailbox: "a@x", RuleID: "active#1"},
		{Type: EventTypeNew, Mailbox: "a@x", RuleID: "active#1"},
		{Type: EventTypeFlagged, Mailbox: "a@x", RuleID: "active#2"},
		{Type: EventTypeModified, Mailbox: "a@x", RuleID: "active#2"},
		{Type: EventTypeMailboxDone, Mailbox: "a@x"},
		{Type: EventTypeFlagged, Mailbox: "b@x", RuleID: "active#1"},
		{Type: EventTypeUnchanged, Mailbox: "b@x", RuleID: "active#1"},
		{Type: EventTypeMailboxDone, Mailbox: "b@x"},
		{Type: EventTypeFetchError, Mailbox: "c@x", Err: fetchErr},
	} {
		events <- evt
	}
	close(events)
	<-done

	got := collector.Snapshot()
	want := Summary{
		MailboxesScanned: 2,
		Flagged:          3,
		New:              1,
		Modified:         1,
		Unchanged:        1,
		FetchErrors:      1,
		LastError:        fetchErr,
	}
	if got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestCollectorStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)
	collector := NewCollector()

	done := make(chan struct{})
	go func() {
		defer close(done)
		collector.Run(ctx, events)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after cancel")
	}
}

func TestSummaryLogAttrs(t *testing.T) {
	s := Summary{MailboxesScanned: 3, Flagged: 1}
	if attrs := s.LogAttrs(); len(attrs) != 12 {
		t.Errorf("LogAttrs() without error has %d elements, want 12", len(attrs))
	}

	s.LastError = fmt.Errorf("boom")
	if attrs := s.LogAttrs(); len(attrs) != 14 {
		t.Errorf("LogAttrs() with error has %d elements, want 14", len(attrs))
	}
}

type fakeStream struct {
	fn func(context.Context, <-chan Event) error
}

func (f *fakeStream) SubscribeEvents(name string, fn func(context.Context, <-chan Event) error) {
	f.fn = fn
}

func TestReporterSummaryAfterDrain(t *testing.T) {
	stream := &fakeStream{}
	reporter := NewReporter(stream, nil)
	if stream.fn == nil {
		t.Fatal("reporter did not subscribe to the stream")
	}

	events := make(chan Event, 2)
	events <- Event{Type: EventTypeMailboxDone, Mailbox: "a@x"}
	events <- Event{Type: EventTypeFlagged, Mailbox: "a@x", RuleID: "active#1"}
	close(events)

	if err := stream.fn(context.Background(), events); err != nil {
		t.Fatalf("consume returned %v", err)
	}

	summary := reporter.Summary()
	if summary.MailboxesScanned != 1 || summary.Flagged != 1 {
		t.Errorf("Summary() = %+v, want 1 mailbox and 1 flagged", summary)
	}
}
