package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"xvm/internal/source"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	caretColor   = color.New(color.FgGreen, color.Bold)
	noteColor    = color.New(color.FgBlue)
)

// RenderOpts controls Render output.
type RenderOpts struct {
	Color   bool
	Context bool // print the offending source line with a caret
}

// Render writes every diagnostic of the bag in CLI form. The bag should be
// sorted beforehand.
func Render(w io.Writer, bag *Bag, fs *source.FileSet, opts RenderOpts) {
	if bag == nil {
		return
	}
	for _, d := range bag.Items() {
		renderOne(w, d, fs, opts)
	}
}

func renderOne(w io.Writer, d Diagnostic, fs *source.FileSet, opts RenderOpts) {
	sev := strings.ToLower(d.Severity.String())
	c := infoColor
	switch d.Severity {
	case SevError:
		c = errorColor
	case SevWarning:
		c = warningColor
	}
	label := fmt.Sprintf("%s[%s]", sev, d.Code.ID())
	if opts.Color {
		label = c.Sprint(label)
	}
	fmt.Fprintf(w, "%s: %s: %s\n", location(fs, d.Primary), label, d.Message)
	if opts.Context {
		writeContext(w, fs, d.Primary, opts.Color)
	}
	for _, n := range d.Notes {
		prefix := "note"
		if opts.Color {
			prefix = noteColor.Sprint(prefix)
		}
		fmt.Fprintf(w, "  %s: %s: %s\n", location(fs, n.Span), prefix, n.Msg)
	}
}

func location(fs *source.FileSet, sp source.Span) string {
	if fs == nil {
		return "<unknown>"
	}
	f := fs.Get(sp.File)
	if f == nil {
		return "<unknown>"
	}
	start, _ := fs.Resolve(sp)
	return fmt.Sprintf("%s:%d:%d", f.Path, start.Line, start.Col)
}

func writeContext(w io.Writer, fs *source.FileSet, sp source.Span, useColor bool) {
	if fs == nil {
		return
	}
	f := fs.Get(sp.File)
	if f == nil {
		return
	}
	start, end := fs.Resolve(sp)
	line := f.GetLine(start.Line)
	if line == "" {
		return
	}
	width := 1
	if end.Line == start.Line && end.Col > start.Col {
		width = int(end.Col - start.Col)
	}
	marker := strings.Repeat(" ", int(start.Col-1)) + "^" + strings.Repeat("~", width-1)
	if useColor {
		marker = caretColor.Sprint(marker)
	}
	fmt.Fprintf(w, "    %s\n    %s\n", line, marker)
}
