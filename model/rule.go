package model

import "time"

// Rule is a single inbox-processing rule as reported by a rule source.
type Rule struct {
	ID                    string
	Name                  string
	Enabled               bool
	Priority              int
	Description           string
	DeleteMessage         bool
	ForwardTo             []string
	ForwardAsAttachmentTo []string
	ServerSupported       bool
}

// Flagged reports whether the rule forwards or deletes mail on arrival, or is
// client-managed and therefore cannot be inspected server-side.
func (r Rule) Flagged() bool {
	return r.DeleteMessage || len(r.ForwardTo) > 0 || len(r.ForwardAsAttachmentTo) > 0 || !r.ServerSupported
}

// RuleRecord is one flagged rule as observed during a scan, immutable after
// creation. Properties holds the display fields in configured order.
type RuleRecord struct {
	Mailbox     string
	RuleID      string
	Flagged     bool
	Description string
	Properties  []Property
	ContentHash string
}

// Property is one display-field name/value pair.
type Property struct {
	Name  string
	Value string
}

// Status classifies a flagged rule against the baseline.
type Status string

const (
	StatusNew       Status = "new"
	StatusModified  Status = "modified"
	StatusUnchanged Status = "unchanged"
)

// ClassifiedRule is a RuleRecord tagged with its baseline comparison result.
type ClassifiedRule struct {
	RuleRecord
	Status Status
}

// MailboxFindings holds the rules selected for reporting for one mailbox.
type MailboxFindings struct {
	Mailbox string
	Rules   []ClassifiedRule
}

// Report is the ordered-by-mailbox collection of findings for one run.
type Report struct {
	FullScan  bool
	Generated time.Time
	Mailboxes []MailboxFindings
}

// Empty reports whether no rule was selected for inclusion across all
// mailboxes.
func (r Report) Empty() bool {
	for _, mb := range r.Mailboxes {
		if len(mb.Rules) > 0 {
			return false
		}
	}
	return true
}

// RuleCount returns the number of included rules across all mailboxes.
func (r Report) RuleCount() int {
	n := 0
	for _, mb := range r.Mailboxes {
		n += len(mb.Rules)
	}
	return n
}
