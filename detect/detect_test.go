package detect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rulewatch/rulewatch/baseline"
	"github.com/rulewatch/rulewatch/fingerprint"
	"github.com/rulewatch/rulewatch/model"
)

func deleteRule(id, desc string) model.Rule {
	return model.Rule{
		ID:              id,
		Name:            id,
		Enabled:         true,
		Priority:        1,
		Description:     desc,
		DeleteMessage:   true,
		ServerSupported: true,
	}
}

func TestFlaggedPredicate(t *testing.T) {
	tests := []struct {
		name string
		rule model.Rule
		want bool
	}{
		{"delete", model.Rule{DeleteMessage: true, ServerSupported: true}, true},
		{"forward", model.Rule{ForwardTo: []string{"a@x.com"}, ServerSupported: true}, true},
		{"forward as attachment", model.Rule{ForwardAsAttachmentTo: []string{"a@x.com"}, ServerSupported: true}, true},
		{"client side", model.Rule{ServerSupported: false}, true},
		{"benign server rule", model.Rule{ServerSupported: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Flagged(); got != tt.want {
				t.Errorf("Flagged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnflaggedRulesDropped(t *testing.T) {
	d := New(baseline.New(), false, DisplayFields)

	benign := model.Rule{ID: "r1", Description: "sort newsletters", ServerSupported: true}
	classified := d.ClassifyMailbox("alice@x.com", []model.Rule{benign})

	require.Empty(t, classified)
	_, ok := d.Snapshot().Lookup("alice@x.com", "r1")
	require.False(t, ok, "unflagged rules must not enter the snapshot")
}

func TestClassificationCompleteness(t *testing.T) {
	base := baseline.New()
	base.Set("alice@x.com", baseline.Entry{ID: "known", Hash: fingerprint.Hash("old condition")})
	base.Set("alice@x.com", baseline.Entry{ID: "stable", Hash: fingerprint.Hash("same condition")})

	d := New(base, false, DisplayFields)
	classified := d.ClassifyMailbox("alice@x.com", []model.Rule{
		deleteRule("fresh", "brand new condition"),
		deleteRule("known", "changed condition"),
		deleteRule("stable", "same condition"),
	})

	require.Len(t, classified, 3)
	byID := map[string]model.Status{}
	for _, c := range classified {
		byID[c.RuleID] = c.Status
	}
	require.Equal(t, model.StatusNew, byID["fresh"])
	require.Equal(t, model.StatusModified, byID["known"])
	require.Equal(t, model.StatusUnchanged, byID["stable"])
}

func TestUnchangedExcludedFromReport(t *testing.T) {
	base := baseline.New()
	base.Set("alice@x.com", baseline.Entry{ID: "stable", Hash: fingerprint.Hash("same")})

	d := New(base, false, DisplayFields)
	d.ClassifyMailbox("alice@x.com", []model.Rule{deleteRule("stable", "same")})

	rep := d.Report()
	require.True(t, rep.Empty())

	// The snapshot still carries the unchanged rule so the next baseline
	// reflects current content.
	entry, ok := d.Snapshot().Lookup("alice@x.com", "stable")
	require.True(t, ok)
	require.Equal(t, fingerprint.Hash("same"), entry.Hash)
}

func TestFullScanTotality(t *testing.T) {
	base := baseline.New()
	base.Set("alice@x.com", baseline.Entry{ID: "stable", Hash: fingerprint.Hash("same")})

	d := New(base, true, DisplayFields)
	classified := d.ClassifyMailbox("alice@x.com", []model.Rule{
		deleteRule("stable", "same"),
		deleteRule("fresh", "new one"),
	})

	for _, c := range classified {
		require.Equal(t, model.StatusNew, c.Status, "full scan classifies everything as new")
	}
	rep := d.Report()
	require.True(t, rep.FullScan)
	require.Equal(t, 2, rep.RuleCount())
}

func TestIdempotenceOfUnchangedState(t *testing.T) {
	rulesNow := []model.Rule{
		deleteRule("r1", "delete from ceo"),
		deleteRule("r2", "delete invoices"),
	}

	first := New(baseline.New(), true, DisplayFields)
	first.ClassifyMailbox("alice@x.com", rulesNow)
	require.False(t, first.Report().Empty())

	// Second run in incremental mode against the persisted snapshot, with
	// no underlying changes.
	second := New(first.Snapshot(), false, DisplayFields)
	second.ClassifyMailbox("alice@x.com", rulesNow)
	require.True(t, second.Report().Empty())
}

func TestStaleRulesDropFromSnapshot(t *testing.T) {
	base := baseline.New()
	base.Set("alice@x.com", baseline.Entry{ID: "gone", Hash: fingerprint.Hash("whatever")})

	d := New(base, false, DisplayFields)
	d.ClassifyMailbox("alice@x.com", []model.Rule{deleteRule("r1", "still here")})

	_, ok := d.Snapshot().Lookup("alice@x.com", "gone")
	require.False(t, ok, "removed rules disappear from the next baseline")
}

func TestReportOrderedByMailbox(t *testing.T) {
	d := New(baseline.New(), true, DisplayFields)
	d.ClassifyMailbox("zoe@x.com", []model.Rule{deleteRule("r1", "a")})
	d.ClassifyMailbox("alice@x.com", []model.Rule{deleteRule("r1", "b")})
	d.ClassifyMailbox("bob@x.com", []model.Rule{deleteRule("r1", "c")})

	rep := d.Report()
	var order []string
	for _, mb := range rep.Mailboxes {
		order = append(order, mb.Mailbox)
	}
	require.Equal(t, []string{"alice@x.com", "bob@x.com", "zoe@x.com"}, order)
}

func TestMailboxesClassifiedIndependently(t *testing.T) {
	base := baseline.New()
	base.Set("alice@x.com", baseline.Entry{ID: "r1", Hash: fingerprint.Hash("cond")})

	d := New(base, false, DisplayFields)
	// Same rule id and content in bob's mailbox is still new for bob.
	classified := d.ClassifyMailbox("bob@x.com", []model.Rule{deleteRule("r1", "cond")})

	require.Len(t, classified, 1)
	require.Equal(t, model.StatusNew, classified[0].Status)
}

// Scenario: empty baseline forces full scan, one delete rule is reported as
// new with its location label derived from the supported flag.
func TestScenarioEmptyBaselineFullScan(t *testing.T) {
	d := New(baseline.New(), true, DisplayFields)

	rule := deleteRule("R1", "from CEO")
	classified := d.ClassifyMailbox("alice@x.com", []model.Rule{rule})

	require.Len(t, classified, 1)
	require.Equal(t, model.StatusNew, classified[0].Status)

	var supported string
	for _, prop := range classified[0].Properties {
		if prop.Name == "ServerSupported" {
			supported = prop.Value
		}
	}
	require.Equal(t, "true", supported)
}

// Scenario: a known rule whose condition text changed is reported modified.
func TestScenarioModifiedHash(t *testing.T) {
	base := baseline.New()
	base.Set("alice@x.com", baseline.Entry{ID: "R1", Hash: fingerprint.Hash("old text")})

	d := New(base, false, DisplayFields)
	classified := d.ClassifyMailbox("alice@x.com", []model.Rule{deleteRule("R1", "new text")})

	require.Len(t, classified, 1)
	require.Equal(t, model.StatusModified, classified[0].Status)
}

func TestBuildRecordDoesNotMutateSource(t *testing.T) {
	d := New(baseline.New(), false, []string{"Name", "ForwardTo", "ServerSupported"})

	rule := model.Rule{
		ID:              "r1",
		Name:            "forward all",
		ForwardTo:       []string{"evil@elsewhere.example"},
		ServerSupported: true,
		Description:     "always",
	}
	before := rule

	classified := d.ClassifyMailbox("alice@x.com", []model.Rule{rule})
	require.Len(t, classified, 1)
	require.Equal(t, before, rule)

	props := classified[0].Properties
	require.Equal(t, []model.Property{
		{Name: "Name", Value: "forward all"},
		{Name: "ForwardTo", Value: "evil@elsewhere.example"},
		{Name: "ServerSupported", Value: "true"},
	}, props)
}

func TestFieldValueUnknownField(t *testing.T) {
	d := New(baseline.New(), false, []string{"NoSuchField"})
	classified := d.ClassifyMailbox("alice@x.com", []model.Rule{deleteRule("r1", "x")})
	require.Len(t, classified, 1)
	require.Equal(t, "", classified[0].Properties[0].Value)
}
