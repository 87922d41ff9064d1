// Package sievedir reads rules from per-mailbox Sieve script directories on
// the mail host, laid out as <root>/<mailbox>/<script>.sieve with the active
// script named (or symlinked as) active.sieve.
package sievedir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rulewatch/rulewatch/model"
	"github.com/rulewatch/rulewatch/rules"
)

const activeScript = "active.sieve"

type Options struct {
	Root string
	// Mailboxes restricts the audit to an explicit list. When empty, every
	// subdirectory of Root is treated as a mailbox.
	Mailboxes []string
}

type Source struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Source, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("sievedir root is empty")
	}
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("sievedir root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sievedir root %s is not a directory", opts.Root)
	}
	return &Source{opts: opts, logger: logger}, nil
}

func (s *Source) Mailboxes(ctx context.Context) ([]string, error) {
	if len(s.opts.Mailboxes) > 0 {
		mailboxes := append([]string(nil), s.opts.Mailboxes...)
		sort.Strings(mailboxes)
		return mailboxes, nil
	}

	entries, err := os.ReadDir(s.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("list mailbox directories: %w", err)
	}

	var mailboxes []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		mailboxes = append(mailboxes, entry.Name())
	}
	sort.Strings(mailboxes)
	return mailboxes, nil
}

func (s *Source) Rules(ctx context.Context, mailbox string) ([]model.Rule, error) {
	dir := filepath.Join(s.opts.Root, mailbox)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read script directory for %s: %w", mailbox, err)
	}

	var all []model.Rule
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sieve") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read script %s for %s: %w", name, mailbox, err)
		}

		script := rules.Script{
			Name:    strings.TrimSuffix(name, ".sieve"),
			Content: string(content),
			Active:  name == activeScript,
		}
		parsed, err := rules.ParseScript(script)
		if err != nil {
			return nil, fmt.Errorf("parse script %s for %s: %w", name, mailbox, err)
		}

		if s.logger != nil {
			s.logger.Debug("parsed sieve script", "mailbox", mailbox, "script", script.Name, "active", script.Active, "rules", len(parsed))
		}
		all = append(all, parsed...)
	}

	return all, nil
}
