// Package logging provides the leveled, component-tagged log sink used
// by the probes and the harness.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is a log level. Trace sits one step below slog's debug; the
// others are slog's own levels.
type Level int

const (
	LevelTrace = Level(slog.LevelDebug - 4)
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// levelNames lists the accepted spellings; the first is canonical.
var levelNames = []struct {
	level Level
	names []string
}{
	{LevelTrace, []string{"trace"}},
	{LevelDebug, []string{"debug"}},
	{LevelInfo, []string{"info"}},
	{LevelWarn, []string{"warn", "warning"}},
	{LevelError, []string{"error", "err"}},
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ln := range levelNames {
		for _, name := range ln.names {
			if s == name {
				return ln.level, nil
			}
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// ToSlog converts Level to slog.Level.
func (l Level) ToSlog() slog.Level {
	return slog.Level(l)
}

func (l Level) String() string {
	for _, ln := range levelNames {
		if ln.level == l {
			return ln.names[0]
		}
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// replaceLevel renders trace records as TRACE rather than slog's
// DEBUG-4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace.ToSlog() {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
