// Package report renders classified rule findings into the HTML document
// delivered to the administrator.
package report

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/rulewatch/rulewatch/model"
)

// NullPlaceholder is rendered in place of empty or missing cell values.
const NullPlaceholder = "NULL"

// ModifiedMarker is appended to the description of a modified rule.
const ModifiedMarker = "---MODIFIED---"

const (
	labelClientSide   = "Client-Side Rule"
	labelServerSide   = "Server-Side Rule"
	ruleLocationLabel = "Rule Location"
)

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
{{.CSS}}
</style>
</head>
<body>
<h1>{{.Heading}}</h1>
<p>{{.Summary}}</p>
{{- range .Sections}}
<div class="mailbox {{.Band}}">
<h3>{{.Heading}}</h3>
<table>
<tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr>
{{- range .Rows}}
<tr>{{range .Cells}}<td{{with .Class}} class="{{.}}"{{end}}>{{.Text}}{{if .Marker}} <span class="modified">{{.Marker}}</span>{{end}}</td>{{end}}</tr>
{{- end}}
</table>
</div>
{{- end}}
</body>
</html>
`))

type page struct {
	CSS      template.CSS
	Heading  string
	Summary  string
	Sections []section
}

type section struct {
	Heading string
	Band    string
	Headers []string
	Rows    []row
}

type row struct {
	Cells []cell
}

type cell struct {
	Text   string
	Class  string
	Marker string
}

// Renderer turns a report into the notification HTML body. The CSS block is
// injected verbatim into the document head; Fields is the ordered column
// list shared with the detector.
type Renderer struct {
	Heading string
	CSS     string
	Fields  []string
}

// Render produces the full HTML document for a non-empty report. Callers
// check Report.Empty first; an empty report takes the heartbeat path
// instead of a change report.
func (r *Renderer) Render(rep model.Report) (string, error) {
	p := page{
		CSS:     template.CSS(r.CSS),
		Heading: r.Heading,
		Summary: summaryText(rep),
	}

	band := false
	for _, mb := range rep.Mailboxes {
		if len(mb.Rules) == 0 {
			continue
		}
		// Banding toggles per mailbox that produces output, not per
		// mailbox scanned.
		band = !band
		p.Sections = append(p.Sections, r.section(mb, rep.FullScan, band))
	}

	var b strings.Builder
	if err := pageTemplate.Execute(&b, p); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return b.String(), nil
}

// RenderHeartbeat produces the fixed "nothing detected" document sent when
// an empty report falls inside the notification window.
func (r *Renderer) RenderHeartbeat() (string, error) {
	p := page{
		CSS:     template.CSS(r.CSS),
		Heading: r.Heading,
		Summary: "No new or modified flagged inbox rules were detected during the last scan. This notice confirms the monitor is still running.",
	}
	var b strings.Builder
	if err := pageTemplate.Execute(&b, p); err != nil {
		return "", fmt.Errorf("render heartbeat: %w", err)
	}
	return b.String(), nil
}

func summaryText(rep model.Report) string {
	if rep.FullScan {
		return fmt.Sprintf("Full scan: every currently flagged inbox rule is listed below (%d rules across %d mailboxes), regardless of prior runs.",
			rep.RuleCount(), len(rep.Mailboxes))
	}
	return "The inbox rules listed below were added or modified since the previous scan."
}

func (r *Renderer) section(mb model.MailboxFindings, fullScan, band bool) section {
	s := section{
		Heading: mb.Mailbox,
		Band:    "band-a",
		Headers: make([]string, 0, len(r.Fields)),
	}
	if !band {
		s.Band = "band-b"
	}
	if fullScan {
		// Per-mailbox counts are only meaningful when everything is
		// listed; incremental reports suppress them.
		s.Heading = fmt.Sprintf("%s (%d rules)", mb.Mailbox, len(mb.Rules))
	}

	for _, field := range r.Fields {
		s.Headers = append(s.Headers, HeaderLabel(field))
	}
	for _, rule := range mb.Rules {
		s.Rows = append(s.Rows, row{Cells: r.cells(rule)})
	}
	return s
}

func (r *Renderer) cells(rule model.ClassifiedRule) []cell {
	cells := make([]cell, 0, len(rule.Properties))
	for _, prop := range rule.Properties {
		cells = append(cells, makeCell(prop.Name, prop.Value, rule.Status))
	}
	return cells
}

// HeaderLabel maps a display-field name to its column header. The
// server-supported boolean is surfaced as a rule-location column.
func HeaderLabel(field string) string {
	if field == "ServerSupported" {
		return ruleLocationLabel
	}
	return field
}

// makeCell applies the rendering rules for a single value: NULL placeholder
// for empty values, human labels plus highlight for the server-supported
// boolean, and the modified marker on the description of a modified rule.
func makeCell(field, value string, status model.Status) cell {
	c := cell{Text: value}

	switch field {
	case "ServerSupported":
		if value == "false" {
			c.Text = labelClientSide
			c.Class = "clientside"
		} else {
			c.Text = labelServerSide
		}
		return c
	case "Description":
		if status == model.StatusModified {
			c.Marker = ModifiedMarker
		}
	}

	if c.Text == "" {
		c.Text = NullPlaceholder
	}
	return c
}
