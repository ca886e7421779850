// Package webbridge delivers whatsapp_web channels through a self-hosted
// WhatsApp Web bridge exposing a small JSON API:
//
//	POST {base}/send  {"to": "...", "text": "...", "image_url": "...", "image_base64": "...", "mimetype": "..."}
//	-> 200 {"id": "..."} | 4xx/5xx {"error": "..."}
//
// The bridge keeps a logged-in session, so there is no session window to manage.
package webbridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"promocast/internal/credentials"
	"promocast/internal/domain"
	"promocast/internal/transport"
	logx "promocast/pkg/logx"
)

const platform = string(domain.PlatformWhatsAppWeb)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec int
}

type Transport struct {
	cfg     Config
	creds   credentials.Source
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, creds credentials.Source, log logx.Logger) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{
		cfg:     cfg,
		creds:   creds,
		log:     log,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (t *Transport) Platform() domain.Platform { return domain.PlatformWhatsAppWeb }

type sendRequest struct {
	To          string `json:"to"`
	Text        string `json:"text"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Mimetype    string `json:"mimetype,omitempty"`
}

type sendResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (t *Transport) Send(ctx context.Context, recipient string, msg transport.Message) (transport.Result, error) {
	base := strings.TrimRight(strings.TrimSpace(t.cfg.BaseURL), "/")
	if base == "" {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "bridge url is not configured"}
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "empty recipient"}
	}
	set, err := t.creds.Get(ctx)
	if err != nil {
		return transport.Result{}, &transport.Error{Platform: platform, Kind: transport.KindAuthFailure, Message: "load credentials", Err: err}
	}

	body := sendRequest{To: recipient, Text: transport.Clip(msg.Text, transport.WhatsAppTextLimit)}
	if msg.HasImage() {
		body.Text = transport.Clip(msg.Text, transport.WhatsAppCaptionLimit)
		if err := t.attachImage(&body, msg.ImageRef); err != nil {
			t.log.Warn("image unavailable, sending text only", logx.String("image", msg.ImageRef), logx.Err(err))
			body.Text = transport.Clip(msg.Text, transport.WhatsAppTextLimit)
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "rate limiter wait", Err: err}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/send", bytes.NewReader(b))
	if err != nil {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := strings.TrimSpace(set.WebBridge.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out sendResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transport.Result{}, classify(resp.StatusCode, out.Error)
	}
	return transport.Result{MessageID: out.ID}, nil
}

// attachImage passes remote images by URL and inlines local files.
func (t *Transport) attachImage(body *sendRequest, ref string) error {
	l := strings.ToLower(ref)
	if strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
		body.ImageURL = ref
		return nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return err
	}
	body.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	body.Mimetype = mime.TypeByExtension(strings.ToLower(filepath.Ext(ref)))
	if body.Mimetype == "" {
		body.Mimetype = "image/png"
	}
	return nil
}

func classify(status int, msg string) *transport.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := &transport.Error{Platform: platform, Kind: transport.KindOther, Code: fmt.Sprintf("%d", status), Message: msg}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = transport.KindAuthFailure
	case http.StatusTooManyRequests:
		e.Kind = transport.KindRateLimited
	}
	return e
}
