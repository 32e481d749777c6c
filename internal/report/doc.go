package report

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is used for every timestamp rendered into a report
const TimestampLayout = "2006-01-02 15:04:05"

// Doc builds one markdown report. Methods chain.
type Doc struct {
	b   strings.Builder
	now func() time.Time
}

// NewDoc starts a document with its title and start time
func NewDoc(title string, now func() time.Time) *Doc {
	if now == nil {
		now = time.Now
	}
	d := &Doc{now: now}
	fmt.Fprintf(&d.b, "# %s\n\n> Started: %s\n\n", title, d.ts())
	return d
}

func (d *Doc) ts() string { return d.now().Format(TimestampLayout) }

// Write appends raw text
func (d *Doc) Write(text string) *Doc {
	d.b.WriteString(text)
	return d
}

// H2 appends a second-level heading
func (d *Doc) H2(text string) *Doc { return d.Write("\n## " + text + "\n\n") }

// H3 appends a third-level heading
func (d *Doc) H3(text string) *Doc { return d.Write("\n### " + text + "\n\n") }

// P appends a paragraph made of lines
func (d *Doc) P(lines ...string) *Doc { return d.Write(strings.Join(lines, "\n") + "\n\n") }

// Blockquote appends a single quoted line
func (d *Doc) Blockquote(text string) *Doc { return d.Write("> " + text + "\n\n") }

// Code appends a fenced block
func (d *Doc) Code(content, lang string) *Doc {
	return d.Write("```" + lang + "\n" + strings.TrimRight(content, " \t\r\n") + "\n```\n\n")
}

// Cmd appends a command line and its output as a code block
func (d *Doc) Cmd(cmdline, output string) *Doc {
	return d.Code("$ "+cmdline+"\n"+strings.TrimRight(output, " \t\r\n"), "")
}

// Table appends a padded markdown table
func (d *Doc) Table(headers []string, rows [][]string) *Doc {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) && len([]rune(row[i])) > widths[i] {
				widths[i] = len([]rune(row[i]))
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = cell + strings.Repeat(" ", w-len([]rune(cell)))
		}
		return "| " + strings.Join(parts, " | ") + " |\n"
	}

	d.Write(line(headers))
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w+2)
	}
	d.Write("|" + strings.Join(sep, "|") + "|\n")
	for _, row := range rows {
		d.Write(line(row))
	}
	return d.Write("\n")
}

// Status appends a ✓ or ⚠ line with label and the current time
func (d *Doc) Status(ok bool, label string) *Doc {
	icon := "✓"
	if !ok {
		icon = "⚠"
	}
	if label == "" {
		label = "OK"
		if !ok {
			label = "FAILED"
		}
	}
	return d.Write(fmt.Sprintf("> %s **%s** (%s)\n\n", icon, label, d.ts()))
}

// Close appends the closing status line. The Doc can still be rendered
// afterwards.
func (d *Doc) Close(ok bool) *Doc {
	if ok {
		return d.Status(true, "Completed")
	}
	return d.Status(false, "Phase failed, see details above")
}

// String returns the rendered markdown
func (d *Doc) String() string { return d.b.String() }
