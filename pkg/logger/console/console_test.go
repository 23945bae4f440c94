package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/depparse/pkg/logger"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleLogger(ConsoleLoggerParams{Prefix: "depparse", Output: &buf})

	c.Write(logger.DebugLevel, "[Test] hidden")
	c.Write(logger.InfoLevel, "[Test] shown", "sentence", "s.1")
	c.Write(logger.FatalLevel, "[Test] fatal")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug output to be filtered, got %q", out)
	}
	for _, want := range []string{"depparse", "[Test] shown", "sentence=s.1", "[Test] fatal"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleLogger(ConsoleLoggerParams{Debug: true, JSON: true, Output: &buf})

	c.Write(logger.DebugLevel, "[Test] debug", "units", 3)

	if !strings.Contains(buf.String(), `"units":3`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}
}
