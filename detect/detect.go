// Package detect implements the change-detection engine: flagged rules from
// the current scan are fingerprinted, compared against the persisted
// baseline and classified as new, modified or unchanged.
package detect

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rulewatch/rulewatch/baseline"
	"github.com/rulewatch/rulewatch/fingerprint"
	"github.com/rulewatch/rulewatch/model"
)

// Detector classifies flagged rules against a baseline loaded once at the
// start of a run and accumulates the run snapshot that replaces it at the
// end. Safe for concurrent use; mailboxes write disjoint keys.
type Detector struct {
	base     *baseline.Baseline
	fullScan bool
	fields   []string

	mu       sync.Mutex
	snapshot *baseline.Baseline
	findings map[string][]model.ClassifiedRule
}

// New creates a detector. fullScan forces every flagged rule to be
// classified as new, ignoring baseline contents; it is set on explicit
// operator request or when no usable baseline exists.
func New(base *baseline.Baseline, fullScan bool, fields []string) *Detector {
	return &Detector{
		base:     base,
		fullScan: fullScan,
		fields:   fields,
		snapshot: baseline.New(),
		findings: make(map[string][]model.ClassifiedRule),
	}
}

func (d *Detector) FullScan() bool {
	return d.fullScan
}

// ClassifyMailbox evaluates one mailbox's rules. Rules that do not satisfy
// the flagged predicate are dropped entirely, regardless of prior history.
// Every flagged rule enters the run snapshot whatever its status, so the
// next baseline always carries the newest content; rules that disappeared
// are dropped naturally by being absent. The returned slice holds every
// flagged rule with its status, including unchanged ones.
func (d *Detector) ClassifyMailbox(mailbox string, rules []model.Rule) []model.ClassifiedRule {
	var classified []model.ClassifiedRule
	for _, rule := range rules {
		if !rule.Flagged() {
			continue
		}

		record := d.buildRecord(mailbox, rule)
		status := d.classify(mailbox, record)
		classified = append(classified, model.ClassifiedRule{RuleRecord: record, Status: status})

		d.mu.Lock()
		d.snapshot.Set(mailbox, baseline.Entry{ID: record.RuleID, Hash: record.ContentHash})
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.findings[mailbox] = classified
	d.mu.Unlock()

	return classified
}

func (d *Detector) classify(mailbox string, record model.RuleRecord) model.Status {
	if d.fullScan {
		return model.StatusNew
	}

	entry, ok := d.base.Lookup(mailbox, record.RuleID)
	switch {
	case !ok:
		return model.StatusNew
	case entry.Hash != record.ContentHash:
		return model.StatusModified
	default:
		return model.StatusUnchanged
	}
}

// Snapshot returns the accumulated run snapshot. It replaces the baseline
// wholesale once all mailboxes have been processed.
func (d *Detector) Snapshot() *baseline.Baseline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

// Report assembles the findings into a report ordered by ascending mailbox
// address, limited to new and modified rules. Mailboxes with nothing to
// include are left out.
func (d *Detector) Report() model.Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := model.Report{
		FullScan:  d.fullScan,
		Generated: time.Now(),
	}

	mailboxes := make([]string, 0, len(d.findings))
	for mailbox := range d.findings {
		mailboxes = append(mailboxes, mailbox)
	}
	sort.Strings(mailboxes)

	for _, mailbox := range mailboxes {
		var included []model.ClassifiedRule
		for _, rule := range d.findings[mailbox] {
			if rule.Status == model.StatusUnchanged {
				continue
			}
			included = append(included, rule)
		}
		if len(included) == 0 {
			continue
		}
		report.Mailboxes = append(report.Mailboxes, model.MailboxFindings{
			Mailbox: mailbox,
			Rules:   included,
		})
	}

	return report
}

// buildRecord constructs a fresh display-ready record for one rule. The
// source rule is never mutated; display adjustments happen at render time.
func (d *Detector) buildRecord(mailbox string, rule model.Rule) model.RuleRecord {
	props := make([]model.Property, 0, len(d.fields))
	for _, field := range d.fields {
		props = append(props, model.Property{Name: field, Value: fieldValue(rule, field)})
	}
	return model.RuleRecord{
		Mailbox:     mailbox,
		RuleID:      rule.ID,
		Flagged:     true,
		Description: rule.Description,
		Properties:  props,
		ContentHash: fingerprint.Hash(rule.Description),
	}
}

func fieldValue(rule model.Rule, field string) string {
	switch field {
	case "Identity":
		return rule.ID
	case "Name":
		return rule.Name
	case "Enabled":
		return strconv.FormatBool(rule.Enabled)
	case "Priority":
		return strconv.Itoa(rule.Priority)
	case "Description":
		return rule.Description
	case "DeleteMessage":
		return strconv.FormatBool(rule.DeleteMessage)
	case "ForwardTo":
		return strings.Join(rule.ForwardTo, ", ")
	case "ForwardAsAttachmentTo":
		return strings.Join(rule.ForwardAsAttachmentTo, ", ")
	case "ServerSupported":
		return strconv.FormatBool(rule.ServerSupported)
	default:
		return ""
	}
}

// DisplayFields are the report columns used when the configuration does not
// name its own ordered list.
var DisplayFields = []string{
	"Name",
	"Enabled",
	"Priority",
	"Description",
	"DeleteMessage",
	"ForwardTo",
	"ForwardAsAttachmentTo",
	"ServerSupported",
}
