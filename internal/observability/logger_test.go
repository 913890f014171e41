package observability

import "testing"

func TestBuildLoggerAcceptsValidLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		for _, format := range []string{"json", "console"} {
			logger, err := BuildLogger(level, format)
			if err != nil {
				t.Fatalf("BuildLogger(%q, %q): %v", level, format, err)
			}
			if logger == nil {
				t.Fatalf("BuildLogger(%q, %q) returned nil logger", level, format)
			}
		}
	}
}

func TestBuildLoggerRejectsInvalidLevel(t *testing.T) {
	if _, err := BuildLogger("verbose", "json"); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}
