package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseScriptDiscard(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `if header :contains "from" "ceo@corp.example" {
    discard;
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	rule := parsed[0]
	require.Equal(t, "active#1", rule.ID)
	require.Equal(t, 1, rule.Priority)
	require.True(t, rule.Enabled)
	require.True(t, rule.DeleteMessage)
	require.True(t, rule.ServerSupported)
	require.True(t, rule.Flagged())
	require.Equal(t, `if header :contains "from" "ceo@corp.example"`, rule.Description)
}

func TestParseScriptRedirect(t *testing.T) {
	script := Script{
		Name:    "active",
		Active:  true,
		Content: `redirect "collector@elsewhere.example";`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	rule := parsed[0]
	require.Equal(t, []string{"collector@elsewhere.example"}, rule.ForwardTo)
	require.Empty(t, rule.ForwardAsAttachmentTo)
	require.True(t, rule.Flagged())
	require.Equal(t, "always", rule.Description)
}

func TestParseScriptCommentNamesRule(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `# Forward invoices to accounting
if header :contains "subject" "invoice" {
    redirect "accounting@corp.example";
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.Equal(t, "Forward invoices to accounting", parsed[0].Name)
}

func TestParseScriptDefaultName(t *testing.T) {
	script := Script{Name: "active", Active: true, Content: `discard;`}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.Equal(t, "active rule 1", parsed[0].Name)
}

func TestParseScriptChainDescription(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `if header :is "x-priority" "1" {
    keep;
} elsif header :contains "subject" "urgent" {
    discard;
} else {
    keep;
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	rule := parsed[0]
	require.True(t, rule.DeleteMessage, "discard in any branch flags the rule")
	lines := strings.Split(rule.Description, "\n")
	require.Equal(t, []string{
		`if header :is "x-priority" "1"`,
		`elsif header :contains "subject" "urgent"`,
		"else",
	}, lines)
}

func TestParseScriptFileintoNotFlagged(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `require "fileinto";
if header :contains "list-id" "golang-nuts" {
    fileinto "Lists";
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	rule := parsed[0]
	require.True(t, rule.ServerSupported)
	require.False(t, rule.Flagged(), "fileinto neither forwards nor deletes")
}

func TestParseScriptUnknownCommandIsClientSide(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `if true {
    frobnicate "whatever";
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.False(t, parsed[0].ServerSupported)
	require.True(t, parsed[0].Flagged(), "uninspectable rules are always flagged")
}

func TestParseScriptEncloseForwardsAsAttachment(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `require "enclose";
if header :contains "subject" "contract" {
    enclose :subject "FWD" ;
    redirect "archive@elsewhere.example";
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	rule := parsed[0]
	require.Equal(t, []string{"archive@elsewhere.example"}, rule.ForwardAsAttachmentTo)
	require.Empty(t, rule.ForwardTo)
	// enclose is outside the supported extension set, so the rule is also
	// client-managed.
	require.False(t, rule.ServerSupported)
}

func TestParseScriptEncloseCoversOnlyNextRedirect(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `require "enclose";
if header :contains "subject" "contract" {
    enclose :subject "FWD" ;
    redirect "archive@elsewhere.example";
    redirect "copy@elsewhere.example";
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	rule := parsed[0]
	require.Equal(t, []string{"archive@elsewhere.example"}, rule.ForwardAsAttachmentTo)
	require.Equal(t, []string{"copy@elsewhere.example"}, rule.ForwardTo)
}

func TestParseScriptMultipleRules(t *testing.T) {
	script := Script{
		Name:   "inactive",
		Active: false,
		Content: `discard;
if header :contains "from" "noise" {
    keep;
}
redirect "out@elsewhere.example";
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	require.Equal(t, "inactive#1", parsed[0].ID)
	require.Equal(t, "inactive#2", parsed[1].ID)
	require.Equal(t, "inactive#3", parsed[2].ID)
	for i, rule := range parsed {
		require.Equal(t, i+1, rule.Priority)
		require.False(t, rule.Enabled, "rules in inactive scripts are disabled")
	}
}

func TestParseScriptNestedActionsCount(t *testing.T) {
	script := Script{
		Name:   "active",
		Active: true,
		Content: `if header :contains "from" "boss" {
    if header :contains "subject" "secret" {
        redirect "spy@elsewhere.example";
    }
}
`,
	}

	parsed, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.Equal(t, []string{"spy@elsewhere.example"}, parsed[0].ForwardTo)
}

func TestParseScriptLexError(t *testing.T) {
	script := Script{Name: "broken", Content: `if header :is "unterminated`}
	_, err := ParseScript(script)
	require.Error(t, err)
}
