package diag

import (
	"xvm/internal/source"
)

type Note struct {
	Span source.Span
	Msg  string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  source.Span
	Notes    []Note
}

// Error renders the diagnostic without source context.
func (d Diagnostic) Error() string {
	return d.Code.ID() + ": " + d.Message
}
