// Package runner drives one audit run: load the baseline, fan the mailboxes
// out to fetch workers, classify, render, notify and persist the new
// snapshot.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rulewatch/rulewatch/baseline"
	"github.com/rulewatch/rulewatch/config"
	"github.com/rulewatch/rulewatch/detect"
	"github.com/rulewatch/rulewatch/model"
	"github.com/rulewatch/rulewatch/notify"
	"github.com/rulewatch/rulewatch/report"
	"github.com/rulewatch/rulewatch/rules"
	"github.com/rulewatch/rulewatch/scan"
	"github.com/rulewatch/rulewatch/schedule"
)

// ErrNoMailboxes is returned when the source discovers nothing to audit.
// It is the only condition escalated to a process-level failure.
var ErrNoMailboxes = errors.New("no mailboxes discoverable")

// Sender delivers a rendered HTML document. notify.Mailer implements it.
type Sender interface {
	Send(htmlBody string) error
}

type Runner struct {
	cfg      config.Config
	logger   *slog.Logger
	source   rules.Source
	store    *baseline.Store
	renderer *report.Renderer
	sender   Sender
	gate     *schedule.Gate

	subscribers     []chan scan.Event
	subscriberWG    sync.WaitGroup
	closeEventsOnce sync.Once

	// OnScanStart, when set, is invoked once the mailbox count is known
	// and before any mailbox is fetched. Late subscribers (the progress
	// bar) hook in here.
	OnScanStart func(totalMailboxes int)
}

func New(cfg config.Config, source rules.Source, store *baseline.Store, sender Sender, logger *slog.Logger) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("rule source must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("baseline store must not be nil")
	}

	gate, err := schedule.NewGate(cfg.Heartbeat.Enabled, cfg.Heartbeat.WindowStart, cfg.Heartbeat.WindowMinutes)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:    cfg,
		logger: logger,
		source: source,
		store:  store,
		renderer: &report.Renderer{
			Heading: cfg.Report.Heading,
			CSS:     cfg.Report.CSS,
			Fields:  cfg.Report.Fields,
		},
		sender: sender,
		gate:   gate,
	}, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

// SubscribeEvents attaches a consumer to the scan event stream on its own
// channel, so every consumer sees every event. Subscription must happen
// before scanning starts (before Run, or inside OnScanStart); consumers run
// until their channel is closed at the end of the run.
func (r *Runner) SubscribeEvents(name string, fn func(context.Context, <-chan scan.Event) error) {
	events := make(chan scan.Event, 128)
	r.subscribers = append(r.subscribers, events)
	r.subscriberWG.Add(1)
	go func() {
		defer r.subscriberWG.Done()
		if err := fn(context.Background(), events); err != nil && !errors.Is(err, context.Canceled) {
			if r.logger != nil {
				r.logger.Warn("event subscriber failed", "name", name, "err", err)
			}
		}
	}()
}

// EmitEvent fans a scan event out to every subscriber. A cancelled run stops
// delivery instead of blocking on a stalled consumer.
func (r *Runner) EmitEvent(ctx context.Context, evt scan.Event) {
	for _, events := range r.subscribers {
		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		for _, events := range r.subscribers {
			close(events)
		}
	})
}

// Run executes one audit pass. Per-mailbox fetch failures and notification
// failures are logged and absorbed; only zero discoverable mailboxes makes
// the run fail, and in that case nothing is persisted.
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		r.closeEvents()
		r.subscriberWG.Wait()
	}()

	started := time.Now()

	// The baseline is read entirely before any mailbox processing begins.
	base, reset, err := r.store.Load()
	if err != nil && r.logger != nil {
		r.logger.Warn("baseline unusable, forcing full scan", "path", r.store.Path(), "err", err)
	}

	fullScan := r.cfg.CheckNow || reset
	if fullScan && r.logger != nil {
		r.logger.Info("running in full-scan mode", "checkNow", r.cfg.CheckNow, "baselineReset", reset)
	}

	mailboxes, err := r.source.Mailboxes(ctx)
	if err != nil {
		return fmt.Errorf("enumerate mailboxes: %w", err)
	}
	if len(mailboxes) == 0 {
		return ErrNoMailboxes
	}
	if r.logger != nil {
		r.logger.Info("starting scan", "mailboxes", len(mailboxes), "fullScan", fullScan, "workers", r.cfg.Workers)
	}
	if r.OnScanStart != nil {
		r.OnScanStart(len(mailboxes))
	}

	detector := detect.New(base, fullScan, r.cfg.Report.Fields)
	r.scanMailboxes(ctx, detector, mailboxes)

	rep := detector.Report()
	r.deliver(rep)

	if r.cfg.DryRun {
		if r.logger != nil {
			r.logger.Info("dry run: baseline not persisted", "path", r.store.Path())
		}
	} else if err := r.store.Save(detector.Snapshot()); err != nil {
		// Findings were delivered; a stale baseline means they repeat
		// next run rather than disappear.
		if r.logger != nil {
			r.logger.Error("persist baseline failed", "path", r.store.Path(), "err", err)
		}
	}

	if r.logger != nil {
		r.logger.Info("run completed", "duration", time.Since(started), "included", rep.RuleCount())
	}
	return nil
}

// scanMailboxes fans mailboxes out to a bounded worker pool. Each mailbox
// writes a disjoint snapshot key, so workers only synchronize on the
// detector's internal lock.
func (r *Runner) scanMailboxes(ctx context.Context, detector *detect.Detector, mailboxes []string) {
	jobs := make(chan string)

	var workerWG sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for mailbox := range jobs {
				r.scanOne(ctx, detector, mailbox)
			}
		}()
	}

	for _, mailbox := range mailboxes {
		jobs <- mailbox
	}
	close(jobs)
	workerWG.Wait()
}

func (r *Runner) scanOne(ctx context.Context, detector *detect.Detector, mailbox string) {
	ruleList, err := r.source.Rules(ctx, mailbox)
	if err != nil {
		// Skip this mailbox for the run; absent from the snapshot, its
		// rules resurface as new findings on the next successful scan.
		r.EmitEvent(ctx, scan.Event{Type: scan.EventTypeFetchError, Mailbox: mailbox, Err: err})
		if r.logger != nil {
			r.logger.Warn("rule fetch failed, skipping mailbox", "mailbox", mailbox, "err", err)
		}
		return
	}

	for _, classified := range detector.ClassifyMailbox(mailbox, ruleList) {
		r.EmitEvent(ctx, scan.Event{Type: scan.EventTypeFlagged, Mailbox: mailbox, RuleID: classified.RuleID})
		switch classified.Status {
		case model.StatusNew:
			r.EmitEvent(ctx, scan.Event{Type: scan.EventTypeNew, Mailbox: mailbox, RuleID: classified.RuleID})
		case model.StatusModified:
			r.EmitEvent(ctx, scan.Event{Type: scan.EventTypeModified, Mailbox: mailbox, RuleID: classified.RuleID})
		case model.StatusUnchanged:
			r.EmitEvent(ctx, scan.Event{Type: scan.EventTypeUnchanged, Mailbox: mailbox, RuleID: classified.RuleID})
		}
	}
	r.EmitEvent(ctx, scan.Event{Type: scan.EventTypeMailboxDone, Mailbox: mailbox})
}

// deliver sends the change report, or consults the heartbeat gate when
// there is nothing to report.
func (r *Runner) deliver(rep model.Report) {
	if rep.Empty() {
		if !r.gate.ShouldFire(time.Now()) {
			if r.logger != nil {
				r.logger.Info("no changes detected, outside heartbeat window; staying quiet")
			}
			return
		}
		body, err := r.renderer.RenderHeartbeat()
		if err != nil {
			if r.logger != nil {
				r.logger.Error("render heartbeat failed", "err", err)
			}
			return
		}
		r.send(body, "heartbeat")
		return
	}

	body, err := r.renderer.Render(rep)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("render report failed", "err", err)
		}
		return
	}
	r.send(body, "change report")
}

func (r *Runner) send(body, kind string) {
	if r.cfg.DryRun || r.sender == nil {
		if r.logger != nil {
			r.logger.Info("dry run: notification not sent", "kind", kind, "bytes", len(body))
		}
		return
	}
	if err := r.sender.Send(body); err != nil {
		// The baseline is still persisted: findings are not lost, only
		// the alert.
		if r.logger != nil {
			r.logger.Error("notification delivery failed", "kind", kind, "err", err)
		}
		return
	}
	if r.logger != nil {
		r.logger.Info("notification delivered", "kind", kind)
	}
}

// NewSender builds the production mailer from configuration.
func NewSender(cfg config.Config, logger *slog.Logger) (Sender, error) {
	return notify.NewMailer(notify.Options{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		From:               cfg.SMTP.From,
		To:                 cfg.SMTP.To,
		Subject:            cfg.SMTP.Subject,
		Username:           cfg.SMTP.Username,
		Password:           cfg.SMTP.Password,
		UseTLS:             cfg.SMTP.UseTLS,
		UseStartTLS:        cfg.SMTP.UseStartTLS,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}, logger)
}
