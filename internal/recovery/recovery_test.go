package recovery

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestRecoverWithLog_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer RecoverWithLog(logger, "testGoroutine")
		panic("test panic")
	}()

	wg.Wait()

	output := buf.String()
	if !strings.Contains(output, "panic recovered") {
		t.Errorf("expected 'panic recovered' in output, got: %s", output)
	}
	if !strings.Contains(output, "testGoroutine") {
		t.Errorf("expected site name in output, got: %s", output)
	}
	if !strings.Contains(output, "test panic") {
		t.Errorf("expected panic message in output, got: %s", output)
	}
	if !strings.Contains(output, "stack=") {
		t.Errorf("expected stack trace in output, got: %s", output)
	}
}

func TestRecoverWithLog_NoopOnNoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer RecoverWithLog(logger, "normalGoroutine")
		// No panic
	}()

	wg.Wait()

	if buf.Len() > 0 {
		t.Errorf("expected no output when no panic, got: %s", buf.String())
	}
}

func TestGuard_RecoversPanicAndReportsIncomplete(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	completed := Guard(logger, "dispatch", func() {
		panic("boom")
	})

	if completed {
		t.Error("expected Guard to report completed=false after a panic")
	}
	output := buf.String()
	if !strings.Contains(output, "panic recovered") {
		t.Errorf("expected 'panic recovered' in output, got: %s", output)
	}
	if !strings.Contains(output, "dispatch") {
		t.Errorf("expected site name in output, got: %s", output)
	}
	if !strings.Contains(output, "boom") {
		t.Errorf("expected panic message in output, got: %s", output)
	}
}

func TestGuard_ReportsCompletedOnNoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ran := false
	completed := Guard(logger, "dispatch", func() {
		ran = true
	})

	if !completed {
		t.Error("expected Guard to report completed=true when fn does not panic")
	}
	if !ran {
		t.Error("expected fn to run")
	}
	if buf.Len() > 0 {
		t.Errorf("expected no log output when no panic, got: %s", buf.String())
	}
}
