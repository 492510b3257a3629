package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(prefix string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(prefix)
	l.SetWriter(buf)
	l.SetColorize(false)
	return l, buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger("test")
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN were written: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN/ERROR messages missing: %q", out)
	}
}

func TestTextFormat(t *testing.T) {
	l, buf := newTestLogger("thermal")
	l.Info("heater %s ready", "bed")

	out := buf.String()
	if !strings.Contains(out, "[INFO ]") {
		t.Errorf("level tag missing: %q", out)
	}
	if !strings.Contains(out, "thermal: heater bed ready") {
		t.Errorf("prefix/message missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	l, buf := newTestLogger("wait")
	l.SetFormat(FormatJSON)
	l.WithField("direction", "cooling").Info("started")

	var entry jsonEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "INFO" || entry.Logger != "wait" || entry.Message != "started" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["direction"] != "cooling" {
		t.Errorf("field missing: %+v", entry.Fields)
	}
}

func TestEntryFieldChaining(t *testing.T) {
	l, buf := newTestLogger("test")

	e := l.WithField("a", 1).WithField("b", 2)
	e.Info("chained")

	out := buf.String()
	if !strings.Contains(out, "a=1") || !strings.Contains(out, "b=2") {
		t.Errorf("fields missing from text output: %q", out)
	}
}

func TestEntryFieldsSorted(t *testing.T) {
	l, buf := newTestLogger("test")
	l.WithField("zeta", 1).WithField("alpha", 2).Info("sorted")

	out := buf.String()
	if strings.Index(out, "alpha") > strings.Index(out, "zeta") {
		t.Errorf("fields not sorted: %q", out)
	}
}

func TestWithError(t *testing.T) {
	l, buf := newTestLogger("test")
	l.WithError(errTest).Error("operation failed")

	if !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("error field missing: %q", buf.String())
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "boom" }

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestWithPrefixSharesSettings(t *testing.T) {
	l, buf := newTestLogger("parent")
	l.SetLevel(ERROR)

	child := l.WithPrefix("child")
	child.Info("dropped")
	child.Error("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("child did not inherit level: %q", out)
	}
	if !strings.Contains(out, "child: kept") {
		t.Errorf("child prefix missing: %q", out)
	}
}
