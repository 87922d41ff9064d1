package rules

import (
	"fmt"
	"strings"

	"github.com/foxcpp/go-sieve"

	"github.com/rulewatch/rulewatch/model"
)

// SupportedExtensions is the set of Sieve extensions this tool understands
// well enough to inspect server-side. A script requiring anything else is
// treated as client-managed: its effect cannot be determined, so every rule
// in it is flagged.
// Core RFC 5228 commands (if/elsif/else, stop, redirect, keep, discard) are
// always available and not listed here.
var SupportedExtensions = []string{
	"fileinto",
	"envelope",
	"copy",
	"imap4flags",
	"variables",
	"relational",
	"comparator-i;ascii-numeric",
	"vacation",
}

// Action command words the scanner knows. Any other command makes the
// containing rule server-unsupported.
var knownCommands = map[string]bool{
	"keep":       true,
	"discard":    true,
	"redirect":   true,
	"fileinto":   true,
	"stop":       true,
	"vacation":   true,
	"reject":     true,
	"ereject":    true,
	"addflag":    true,
	"setflag":    true,
	"removeflag": true,
	"enclose":    true,
	"if":         true,
	"elsif":      true,
	"else":       true,
	"require":    true,
}

// ParseScript scans one Sieve script into rules. Each top-level if/elsif/
// else chain becomes one rule; each bare top-level action command becomes an
// unconditional rule. Rule identity is script name plus ordinal, which is
// stable across runs as long as the rule keeps its position; content changes
// are caught by the fingerprint, not the identity.
func ParseScript(script Script) ([]model.Rule, error) {
	toks, err := lex(script.Content)
	if err != nil {
		return nil, fmt.Errorf("scan script %s: %w", script.Name, err)
	}

	// Validation failure means the script uses syntax or extensions we
	// cannot reason about; its rules are still listed, but as
	// client-managed.
	validated := validate(script.Content) == nil

	var (
		rules       []model.Rule
		pendingName string
		ordinal     int
	)

	i := 0
	for i < len(toks) {
		tok := toks[i]
		switch {
		case tok.kind == tokComment:
			pendingName = strings.TrimSpace(tok.text)
			i++
		case tok.kind == tokWord && tok.text == "require":
			// Extension requirements are validated via go-sieve; the
			// scanner only needs to skip them.
			i = skipCommand(toks, i)
			pendingName = ""
		case tok.kind == tokWord && tok.text == "if":
			chain, next := parseChain(toks, i)
			ordinal++
			rules = append(rules, buildRule(script, ordinal, pendingName, chain, validated))
			pendingName = ""
			i = next
		case tok.kind == tokWord:
			cmd, next := parseSimpleCommand(toks, i)
			ordinal++
			rules = append(rules, buildRule(script, ordinal, pendingName, chain{branches: []branch{{unconditional: true, actions: []command{cmd}}}}, validated))
			pendingName = ""
			i = next
		default:
			// Stray punctuation; skip rather than fail the whole script.
			i++
		}
	}

	return rules, nil
}

// validate runs the script through the Sieve interpreter's loader with the
// supported extension set.
func validate(content string) error {
	options := sieve.DefaultOptions()
	options.EnabledExtensions = SupportedExtensions
	_, err := sieve.Load(strings.NewReader(content), options)
	return err
}

type branch struct {
	keyword       string // "if", "elsif", "else"
	test          string // rendered condition text, empty for else
	unconditional bool
	actions       []command
}

type chain struct {
	branches []branch
}

type command struct {
	name string
	args []token
}

// buildRule derives the rule record for one chain: the condition description
// covers the tests only (action-independent), while the flag-relevant
// actions are folded into the delete/forward fields.
func buildRule(script Script, ordinal int, name string, ch chain, validated bool) model.Rule {
	rule := model.Rule{
		ID:              fmt.Sprintf("%s#%d", script.Name, ordinal),
		Name:            name,
		Enabled:         script.Active,
		Priority:        ordinal,
		ServerSupported: validated,
	}
	if rule.Name == "" {
		rule.Name = fmt.Sprintf("%s rule %d", script.Name, ordinal)
	}

	var desc []string
	enclosed := false
	for _, br := range ch.branches {
		switch {
		case br.unconditional:
			desc = append(desc, "always")
		case br.keyword == "else":
			desc = append(desc, "else")
		default:
			desc = append(desc, br.keyword+" "+br.test)
		}

		for _, cmd := range br.actions {
			if !knownCommands[cmd.name] {
				rule.ServerSupported = false
				continue
			}
			switch cmd.name {
			case "discard":
				rule.DeleteMessage = true
			case "enclose":
				enclosed = true
			case "redirect":
				for _, addr := range stringArgs(cmd.args) {
					if enclosed {
						rule.ForwardAsAttachmentTo = append(rule.ForwardAsAttachmentTo, addr)
					} else {
						rule.ForwardTo = append(rule.ForwardTo, addr)
					}
				}
				// An enclose applies to the redirect that follows it; later
				// redirects in the same rule forward plainly again.
				enclosed = false
			}
		}
	}
	rule.Description = strings.Join(desc, "\n")

	return rule
}

// parseChain consumes an if/elsif/else chain starting at toks[i] and
// returns the chain and the index after it.
func parseChain(toks []token, i int) (chain, int) {
	var ch chain
	for i < len(toks) && toks[i].kind == tokWord {
		keyword := toks[i].text
		if keyword != "if" && keyword != "elsif" && keyword != "else" {
			break
		}
		i++

		br := branch{keyword: keyword}
		if keyword != "else" {
			start := i
			for i < len(toks) && !toks[i].isPunct("{") {
				i++
			}
			br.test = renderTokens(toks[start:i])
		}

		var block []token
		block, i = collectBlock(toks, i)
		br.actions = scanActions(block)
		ch.branches = append(ch.branches, br)

		if keyword == "else" {
			break
		}
		// Comments between branches belong to the chain, not the next
		// rule, so skip them only when a branch actually follows.
		j := i
		for j < len(toks) && toks[j].kind == tokComment {
			j++
		}
		if j < len(toks) && toks[j].kind == tokWord && (toks[j].text == "elsif" || toks[j].text == "else") {
			i = j
		}
	}
	return ch, i
}

// collectBlock consumes a balanced { ... } block starting at toks[i] and
// returns the inner tokens and the index after the closing brace.
func collectBlock(toks []token, i int) ([]token, int) {
	if i >= len(toks) || !toks[i].isPunct("{") {
		return nil, i
	}
	i++
	depth := 1
	start := i
	for i < len(toks) {
		switch {
		case toks[i].isPunct("{"):
			depth++
		case toks[i].isPunct("}"):
			depth--
			if depth == 0 {
				return toks[start:i], i + 1
			}
		}
		i++
	}
	return toks[start:], i
}

// scanActions extracts the action commands anywhere inside a block,
// including inside nested conditions: for flagging purposes an action that
// may fire is an action that counts.
func scanActions(block []token) []command {
	var cmds []command
	i := 0
	for i < len(block) {
		tok := block[i]
		if tok.kind != tokWord {
			i++
			continue
		}
		if tok.text == "if" || tok.text == "elsif" {
			// Skip the nested test; its block contents are scanned like
			// any other tokens.
			for i < len(block) && !block[i].isPunct("{") {
				i++
			}
			i++
			continue
		}
		if tok.text == "else" {
			i += 2 // keyword and opening brace
			continue
		}
		cmd, next := parseSimpleCommand(block, i)
		cmds = append(cmds, cmd)
		i = next
	}
	return cmds
}

// parseSimpleCommand consumes one action command up to its semicolon.
func parseSimpleCommand(toks []token, i int) (command, int) {
	cmd := command{name: toks[i].text}
	i++
	for i < len(toks) && !toks[i].isPunct(";") {
		if toks[i].kind != tokComment {
			cmd.args = append(cmd.args, toks[i])
		}
		i++
	}
	if i < len(toks) {
		i++ // consume semicolon
	}
	return cmd, i
}

func skipCommand(toks []token, i int) int {
	for i < len(toks) && !toks[i].isPunct(";") {
		i++
	}
	if i < len(toks) {
		i++
	}
	return i
}

// stringArgs returns the positional string arguments of a command, ignoring
// tags and their values where the tag takes none.
func stringArgs(args []token) []string {
	var out []string
	for _, a := range args {
		if a.kind == tokString {
			out = append(out, a.text)
		}
	}
	return out
}

// renderTokens reconstructs readable Sieve source from a token slice. The
// output is what administrators see as the condition description and what
// the fingerprint is computed over.
func renderTokens(toks []token) string {
	var b strings.Builder
	for idx, tok := range toks {
		text := tok.text
		switch tok.kind {
		case tokString:
			text = `"` + tok.text + `"`
		case tokTag:
			text = ":" + tok.text
		case tokComment:
			continue
		}
		if idx > 0 && !tok.isPunct(",") && !tok.isPunct("]") && !toks[idx-1].isPunct("[") {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
