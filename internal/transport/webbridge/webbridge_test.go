package webbridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"promocast/internal/credentials"
	"promocast/internal/transport"
	logx "promocast/pkg/logx"
)

func TestSend(t *testing.T) {
	t.Parallel()

	logo := filepath.Join(t.TempDir(), "generic.png")
	if err := os.WriteFile(logo, []byte("png"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		status int
		reply  string
		msg    transport.Message
		check  func(t *testing.T, got sendRequest)
		kind   transport.Kind
		err    bool
	}{
		{
			name: "text", status: http.StatusOK, reply: `{"id":"abc"}`,
			msg: transport.Message{Text: "oi"},
			check: func(t *testing.T, got sendRequest) {
				if got.Text != "oi" || got.ImageURL != "" || got.ImageBase64 != "" {
					t.Fatalf("body=%+v", got)
				}
			},
		},
		{
			name: "remote image", status: http.StatusOK, reply: `{"id":"abc"}`,
			msg: transport.Message{Text: "oi", ImageRef: "https://cdn/x.png"},
			check: func(t *testing.T, got sendRequest) {
				if got.ImageURL != "https://cdn/x.png" {
					t.Fatalf("body=%+v", got)
				}
			},
		},
		{
			name: "local image inlined", status: http.StatusOK, reply: `{"id":"abc"}`,
			msg: transport.Message{Text: "oi", ImageRef: logo},
			check: func(t *testing.T, got sendRequest) {
				if got.ImageBase64 == "" || got.Mimetype != "image/png" {
					t.Fatalf("body=%+v", got)
				}
			},
		},
		{name: "unauthorized", status: http.StatusUnauthorized, reply: `{"error":"bad token"}`, msg: transport.Message{Text: "x"}, err: true, kind: transport.KindAuthFailure},
		{name: "throttled", status: http.StatusTooManyRequests, reply: `{}`, msg: transport.Message{Text: "x"}, err: true, kind: transport.KindRateLimited},
		{name: "session down", status: http.StatusServiceUnavailable, reply: `{"error":"not connected"}`, msg: transport.Message{Text: "x"}, err: true, kind: transport.KindOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got sendRequest
			var auth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/send" {
					http.NotFound(w, r)
					return
				}
				auth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.reply)
			}))
			defer srv.Close()

			tr := New(Config{BaseURL: srv.URL + "/", RatePerSec: 100},
				credentials.Static(credentials.Set{WebBridge: credentials.WebBridgeCreds{Token: "k"}}), logx.Nop())
			res, err := tr.Send(context.Background(), "5511999990000@c.us", tt.msg)
			if tt.err {
				if transport.KindOf(err) != tt.kind || err == nil {
					t.Fatalf("err=%v want kind %v", err, tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if res.MessageID != "abc" || auth != "Bearer k" || got.To != "5511999990000@c.us" {
				t.Fatalf("res=%+v auth=%q to=%q", res, auth, got.To)
			}
			tt.check(t, got)
		})
	}
}

func TestUnconfiguredBridge(t *testing.T) {
	t.Parallel()

	tr := New(Config{}, credentials.Static(credentials.Set{}), logx.Nop())
	if _, err := tr.Send(context.Background(), "x", transport.Message{Text: "x"}); err == nil {
		t.Fatalf("expected error without a bridge url")
	}
}
