// Package scan carries the event stream produced while mailboxes are
// audited and aggregates it into an end-of-run summary.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeMailboxDone EventType = "mailbox_done"
	EventTypeFlagged     EventType = "flagged"
	EventTypeNew         EventType = "new"
	EventTypeModified    EventType = "modified"
	EventTypeUnchanged   EventType = "unchanged"
	EventTypeFetchError  EventType = "fetch_error"
)

type Event struct {
	Type    EventType
	Mailbox string
	RuleID  string
	Err     error
}

type Summary struct {
	MailboxesScanned int
	Flagged          int
	New              int
	Modified         int
	Unchanged        int
	FetchErrors      int
	LastError        error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"mailboxesScanned", s.MailboxesScanned,
		"flagged", s.Flagged,
		"new", s.New,
		"modified", s.Modified,
		"unchanged", s.Unchanged,
		"fetchErrors", s.FetchErrors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeMailboxDone:
		c.summary.MailboxesScanned++
	case EventTypeFlagged:
		c.summary.Flagged++
	case EventTypeNew:
		c.summary.New++
	case EventTypeModified:
		c.summary.Modified++
	case EventTypeUnchanged:
		c.summary.Unchanged++
	case EventTypeFetchError:
		c.summary.FetchErrors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeEvents(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter subscribes a collector to the event stream and logs the summary
// once the stream drains.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeEvents("scan-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("scan event collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("scan summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
