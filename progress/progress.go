package progress

import (
	"context"
	"sync"

	"github.com/pterm/pterm"

	"github.com/rulewatch/rulewatch/scan"
)

// Bar tracks mailboxes scanned on a pterm progress bar fed from the scan
// event stream.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar if logLevel is "info"; debug runs log every
// mailbox anyway and quieter runs should stay quiet.
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Scanning mailboxes").
			Start()
		bar.pb = pb
	}

	return bar
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt scan.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case scan.EventTypeMailboxDone:
		b.pb.Increment()
		if evt.Mailbox != "" {
			display := evt.Mailbox
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			b.pb.UpdateTitle("Scanned: " + display)
		}
	case scan.EventTypeFetchError:
		// A failed mailbox still counts as handled for this run.
		b.pb.Increment()
		if evt.Err != nil {
			pterm.Error.Printf("Fetch failed for %s: %v\n", evt.Mailbox, evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber adapts the bar to the scan event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan scan.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}
