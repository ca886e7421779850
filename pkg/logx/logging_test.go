package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "hello" {
		t.Fatalf("unexpected record: %v", m)
	}
	if n, _ := m["n"].(float64); n != 3 {
		t.Fatalf("n = %v, want 3", m["n"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored")
}

func TestFormatAlert(t *testing.T) {
	got := formatAlert([]byte(`{"level":"warn","message":"send failed","channel":"c1","time":"x"}`))
	if !strings.HasPrefix(got, "[WARN] send failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "- channel=c1") {
		t.Fatalf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be omitted: %q", got)
	}
}

type captureSender struct{ ch chan string }

func (c captureSender) SendAlert(ctx context.Context, text string) error {
	c.ch <- text
	return nil
}

func TestAlertWriterRespectsMinLevel(t *testing.T) {
	s := &Service{alertQueue: make(chan string, 4)}
	s.Apply(Config{Alerts: AlertConfig{MinLevel: "error", RatePerSec: 10}})
	s.SetAlertSender(captureSender{ch: make(chan string, 1)})

	w := &alertWriter{svc: s}
	_, _ = w.WriteLevel(LevelWarn, []byte(`{"level":"warn","message":"x"}`))
	if len(s.alertQueue) != 0 {
		t.Fatalf("warn record should not be queued when min level is error")
	}
	_, _ = w.WriteLevel(LevelError, []byte(`{"level":"error","message":"boom"}`))
	if len(s.alertQueue) != 1 {
		t.Fatalf("error record should be queued, queue=%d", len(s.alertQueue))
	}
}

func TestTraceNeedsTraceLevel(t *testing.T) {
	for _, tc := range []struct {
		level string
		want  bool
	}{{"trace", true}, {"debug", false}} {
		var buf bytes.Buffer
		NewWriter(&buf, tc.level).Trace("rendered", Int("runes", 12))
		if got := strings.Contains(buf.String(), `"runes":12`); got != tc.want {
			t.Fatalf("level %s: wrote=%v want %v (%q)", tc.level, got, tc.want, buf.String())
		}
	}
}
