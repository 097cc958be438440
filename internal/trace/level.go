package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	// LevelOff disables tracing.
	LevelOff     Level = iota // no tracing
	LevelError                // only emit uncaught faults
	LevelService              // runtime + service boundaries
	LevelDetail               // fiber-level events
	LevelDebug                // everything including ops
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelService:
		return "service"
	case LevelDetail:
		return "detail"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "off", "":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "service":
		return LevelService, nil
	case "detail":
		return LevelDetail, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|service|detail|debug)", s)
	}
}

// ShouldEmit returns true if the given scope should emit at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelOff:
		return false
	case LevelError:
		return false // faults always go through the crash path
	case LevelService:
		return scope <= ScopeService
	case LevelDetail:
		return scope <= ScopeFiber
	case LevelDebug:
		return true
	}
	return false
}

func accepts(l Level, ev *Event) bool {
	if l == LevelOff {
		return false
	}
	return l.ShouldEmit(ev.Scope) || ev.Kind == KindHeartbeat || isFault(ev)
}
