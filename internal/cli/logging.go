package cli

import (
	"io"
	"log/slog"
)

// levelOff is above every level used by the code base.
const levelOff = slog.Level(100)

// verbosityLevel maps the -l verbosity, 1 (everything) to 5 (nothing).
func verbosityLevel(v int) (slog.Level, error) {
	switch v {
	case 1:
		return slog.LevelDebug, nil
	case 2:
		return slog.LevelInfo, nil
	case 3:
		return slog.LevelWarn, nil
	case 4:
		return slog.LevelError, nil
	case 5:
		return levelOff, nil
	}
	return 0, usageErrorf("logging level must be an integer between 1 and 5, got %d", v)
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
