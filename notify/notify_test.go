package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMailerValidation(t *testing.T) {
	valid := Options{Host: "relay.example", Port: 587, From: "a@x", To: []string{"b@x"}}
	if _, err := NewMailer(valid, nil); err != nil {
		t.Fatalf("NewMailer(valid) returned %v", err)
	}

	tests := []struct {
		name   string
		mutate func(Options) Options
	}{
		{"empty host", func(o Options) Options { o.Host = ""; return o }},
		{"zero port", func(o Options) Options { o.Port = 0; return o }},
		{"huge port", func(o Options) Options { o.Port = 70000; return o }},
		{"empty from", func(o Options) Options { o.From = ""; return o }},
		{"no recipients", func(o Options) Options { o.To = nil; return o }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMailer(tt.mutate(valid), nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	mailer, err := NewMailer(Options{
		Host:    "relay.example",
		Port:    587,
		From:    "monitor@example",
		To:      []string{"admin@example", "backup@example"},
		Subject: "Inbox rule changes detected",
	}, nil)
	require.NoError(t, err)

	html := "<html><body><h1>Inbox Rule Audit</h1><p>one finding</p></body></html>"
	raw, err := mailer.buildMessage(html)
	require.NoError(t, err)
	msg := string(raw)

	require.Contains(t, msg, "From: <monitor@example>")
	require.Contains(t, msg, "admin@example")
	require.Contains(t, msg, "backup@example")
	require.Contains(t, msg, "Subject: Inbox rule changes detected")
	require.Contains(t, msg, "multipart/alternative")
	require.Contains(t, msg, "text/plain")
	require.Contains(t, msg, "text/html")
	require.Contains(t, msg, "one finding")

	// The plaintext alternative carries the content without markup.
	require.True(t, strings.Contains(msg, "Inbox Rule Audit"))
}
