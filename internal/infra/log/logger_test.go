package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("prod", &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Str("session", "alpha").Msg("mirror: started")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line must be filtered outside dev: %s", out)
	}
	if !strings.Contains(out, `"session":"alpha"`) {
		t.Fatalf("expected JSON field in output: %s", out)
	}
}

func TestNewLoggerDevIsVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("dev", &buf)
	logger.Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug line expected in dev: %s", buf.String())
	}
}
