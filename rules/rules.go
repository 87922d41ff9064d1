// Package rules defines the rule-source contract and the shared Sieve
// script scanner that turns scripts into inspectable rules.
package rules

import (
	"context"

	"github.com/rulewatch/rulewatch/model"
)

// Source yields, per mailbox, the currently configured inbox-processing
// rules. Implementations live in the sievedir and managesieve subpackages.
type Source interface {
	// Mailboxes enumerates the mailbox addresses to audit.
	Mailboxes(ctx context.Context) ([]string, error)
	// Rules returns the rules configured for one mailbox. A failure here
	// skips that mailbox for the run; it never aborts the scan.
	Rules(ctx context.Context, mailbox string) ([]model.Rule, error)
}

// Script is one Sieve script fetched from a source.
type Script struct {
	Name    string
	Content string
	Active  bool
}
