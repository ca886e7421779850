// Package whatsapp delivers notifications through the WhatsApp Cloud API.
//
// A send rejected because the recipient's 24h session window is closed is
// recovered by sending the configured opener template, waiting OpenerDelay,
// and retrying the original message exactly once.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"promocast/internal/credentials"
	"promocast/internal/domain"
	"promocast/internal/transport"
	logx "promocast/pkg/logx"
)

const platform = string(domain.PlatformWhatsApp)

type Config struct {
	// BaseURL defaults to https://graph.facebook.com.
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	// OpenerTemplate is the pre-approved template used to reopen a closed
	// session window. Empty disables the fallback.
	OpenerTemplate string
	OpenerLanguage string
	OpenerDelay    time.Duration
	RatePerSec     int
}

type Transport struct {
	cfg     Config
	creds   credentials.Source
	log     logx.Logger
	api     *client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, creds credentials.Source, log logx.Logger) *Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v21.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.OpenerLanguage == "" {
		cfg.OpenerLanguage = "pt_BR"
	}
	if cfg.OpenerDelay <= 0 {
		cfg.OpenerDelay = 3 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.OpenerTemplate) == "" {
		log.Warn("no opener template configured, sends to closed session windows will fail")
	}
	return &Transport{
		cfg:     cfg,
		creds:   creds,
		log:     log,
		api:     newClient(cfg.BaseURL, cfg.APIVersion, cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		sleep:   sleepCtx,
	}
}

func (t *Transport) Platform() domain.Platform { return domain.PlatformWhatsApp }

func (t *Transport) Send(ctx context.Context, recipient string, msg transport.Message) (transport.Result, error) {
	to := normalizeRecipient(recipient)
	if to == "" {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "empty recipient"}
	}
	acc, err := t.account(ctx)
	if err != nil {
		return transport.Result{}, err
	}
	payload, err := t.buildMessage(ctx, acc, to, msg)
	if err != nil {
		return transport.Result{}, err
	}
	return t.sendWithWindowFallback(ctx, acc, to, payload)
}

// sendWithWindowFallback is the session window state machine:
// send -> (ok | window closed -> opener -> delay -> resend once).
func (t *Transport) sendWithWindowFallback(ctx context.Context, acc account, to string, payload sendRequest) (transport.Result, error) {
	id, err := t.post(ctx, acc, payload)
	if err == nil {
		return transport.Result{MessageID: id}, nil
	}
	if !transport.IsWindowClosed(err) {
		return transport.Result{}, err
	}
	log := t.log.With(logx.String("to", to))
	if t.cfg.OpenerTemplate == "" {
		log.Warn("session window closed and no opener template configured")
		return transport.Result{}, err
	}

	log.Info("session window closed, sending opener template", logx.String("template", t.cfg.OpenerTemplate))
	if _, oerr := t.post(ctx, acc, templateRequest(to, t.cfg.OpenerTemplate, t.cfg.OpenerLanguage)); oerr != nil {
		log.Warn("opener template failed", logx.Err(oerr))
		return transport.Result{}, &transport.Error{
			Platform: platform,
			Kind:     transport.KindOf(oerr),
			Message:  "opener template failed after closed session window",
			Err:      oerr,
		}
	}

	if serr := t.sleep(ctx, t.cfg.OpenerDelay); serr != nil {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "waiting after opener", Err: serr}
	}
	id, err = t.post(ctx, acc, payload)
	if err != nil {
		log.Warn("resend after opener failed", logx.Err(err))
		return transport.Result{}, err
	}
	log.Debug("resend after opener succeeded", logx.String("message_id", id))
	return transport.Result{MessageID: id}, nil
}

func (t *Transport) buildMessage(ctx context.Context, acc account, to string, msg transport.Message) (sendRequest, error) {
	if !msg.HasImage() {
		return textRequest(to, transport.Clip(msg.Text, transport.WhatsAppTextLimit)), nil
	}
	caption := transport.Clip(msg.Text, transport.WhatsAppCaptionLimit)
	if isRemote(msg.ImageRef) {
		return imageRequest(to, imageObject{Link: msg.ImageRef, Caption: caption}), nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return sendRequest{}, &transport.Error{Platform: platform, Message: "rate limiter wait", Err: err}
	}
	mediaID, err := t.api.uploadMedia(ctx, acc, msg.ImageRef)
	if err != nil {
		t.log.Warn("media upload failed, sending text only", logx.String("path", msg.ImageRef), logx.Err(err))
		if k := transport.KindOf(err); k == transport.KindAuthFailure || k == transport.KindRateLimited {
			return sendRequest{}, err
		}
		return textRequest(to, transport.Clip(msg.Text, transport.WhatsAppTextLimit)), nil
	}
	return imageRequest(to, imageObject{ID: mediaID, Caption: caption}), nil
}

func (t *Transport) post(ctx context.Context, acc account, req sendRequest) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", &transport.Error{Platform: platform, Message: "rate limiter wait", Err: err}
	}
	return t.api.sendMessage(ctx, acc, req)
}

type account struct {
	token         string
	phoneNumberID string
}

func (t *Transport) account(ctx context.Context) (account, error) {
	set, err := t.creds.Get(ctx)
	if err != nil {
		return account{}, &transport.Error{Platform: platform, Kind: transport.KindAuthFailure, Message: "load credentials", Err: err}
	}
	acc := account{token: strings.TrimSpace(set.WhatsApp.Token), phoneNumberID: strings.TrimSpace(set.WhatsApp.PhoneNumberID)}
	if acc.token == "" || acc.phoneNumberID == "" {
		return account{}, &transport.Error{Platform: platform, Kind: transport.KindAuthFailure, Message: "access token or phone number id is not configured"}
	}
	return acc, nil
}

// normalizeRecipient keeps only the digits of a phone number. Group and
// other JIDs (containing '@') are passed through.
func normalizeRecipient(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isRemote(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

var errNoMessageID = errors.New("response carried no message id")

func fmtCode(code int) string {
	if code == 0 {
		return ""
	}
	return fmt.Sprintf("%d", code)
}
