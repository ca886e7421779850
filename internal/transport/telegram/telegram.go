// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"promocast/internal/credentials"
	"promocast/internal/domain"
	"promocast/internal/transport"
	logx "promocast/pkg/logx"
)

const platform = string(domain.PlatformTelegram)

// maxPhotoBytes is the Bot API upload limit for photos.
const maxPhotoBytes = 10 << 20

type Config struct {
	// APIURL defaults to https://api.telegram.org.
	APIURL string
	// Timeout bounds every Bot API call (default 30s).
	Timeout time.Duration
	// DownloadTimeout bounds fetching a remote image (default 30s).
	DownloadTimeout time.Duration
	// DownloadAttempts is how often a remote image fetch is tried (default 2).
	DownloadAttempts uint
	// RatePerSec caps outgoing calls (default 25).
	RatePerSec int
	// DefaultParseMode applies when a message has none ("" keeps plain text).
	DefaultParseMode string
}

// Transport is safe for concurrent use. The bot is rebuilt whenever the
// configured token changes.
type Transport struct {
	cfg     Config
	creds   credentials.Source
	log     logx.Logger
	client  *http.Client
	fetch   *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	bot   *tele.Bot
	token string
}

func New(cfg Config, creds credentials.Source, log logx.Logger) *Transport {
	if cfg.APIURL == "" {
		cfg.APIURL = tele.DefaultApiURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	if cfg.DownloadAttempts == 0 {
		cfg.DownloadAttempts = 2
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{
		cfg:     cfg,
		creds:   creds,
		log:     log,
		client:  &http.Client{Timeout: cfg.Timeout},
		fetch:   &http.Client{Timeout: cfg.DownloadTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (t *Transport) Platform() domain.Platform { return domain.PlatformTelegram }

// chatRef addresses a chat by numeric id or @username.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

func (t *Transport) Send(ctx context.Context, recipient string, msg transport.Message) (transport.Result, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return transport.Result{}, &transport.Error{Platform: platform, Message: "empty chat id"}
	}
	bot, err := t.botFor(ctx)
	if err != nil {
		return transport.Result{}, err
	}
	mode := msg.ParseMode
	if mode == "" {
		mode = t.cfg.DefaultParseMode
	}
	to := chatRef(recipient)

	var m *tele.Message
	if msg.HasImage() {
		m, err = t.sendImage(ctx, bot, to, msg.ImageRef, transport.Clip(msg.Text, transport.TelegramCaptionLimit), mode)
	} else {
		text := transport.Clip(msg.Text, transport.TelegramTextLimit)
		m, err = t.withPlainRetry(ctx, mode, func(pm string) (*tele.Message, error) {
			return bot.Send(to, text, &tele.SendOptions{ParseMode: tele.ParseMode(pm), DisableWebPagePreview: true})
		})
	}
	if err != nil {
		return transport.Result{}, classify(err)
	}
	res := transport.Result{}
	if m != nil {
		res.MessageID = strconv.Itoa(m.ID)
	}
	return res, nil
}

// sendImage uploads the image as multipart data. Remote images are downloaded
// first; if that or the upload fails, the URL is handed to Telegram once.
func (t *Transport) sendImage(ctx context.Context, bot *tele.Bot, to chatRef, ref, caption, mode string) (*tele.Message, error) {
	if !isRemote(ref) {
		if _, err := os.Stat(ref); err != nil {
			t.log.Warn("local image unavailable, sending text only", logx.String("path", ref), logx.Err(err))
			return t.withPlainRetry(ctx, mode, func(pm string) (*tele.Message, error) {
				return bot.Send(to, caption, &tele.SendOptions{ParseMode: tele.ParseMode(pm), DisableWebPagePreview: true})
			})
		}
		return t.sendPhoto(ctx, bot, to, func() tele.File { return tele.FromDisk(ref) }, caption, mode)
	}

	data, err := t.download(ctx, ref)
	if err == nil {
		m, upErr := t.sendPhoto(ctx, bot, to, func() tele.File { return tele.FromReader(bytes.NewReader(data)) }, caption, mode)
		if upErr == nil {
			return m, nil
		}
		if k := classify(upErr).Kind; k == transport.KindAuthFailure || k == transport.KindRateLimited {
			return nil, upErr
		}
		err = upErr
	}
	t.log.Warn("image upload failed, falling back to url", logx.String("chat", string(to)), logx.String("url", ref), logx.Err(err))
	return t.sendPhoto(ctx, bot, to, func() tele.File { return tele.FromURL(ref) }, caption, mode)
}

func (t *Transport) sendPhoto(ctx context.Context, bot *tele.Bot, to chatRef, file func() tele.File, caption, mode string) (*tele.Message, error) {
	return t.withPlainRetry(ctx, mode, func(pm string) (*tele.Message, error) {
		p := &tele.Photo{File: file(), Caption: caption}
		return bot.Send(to, p, &tele.SendOptions{ParseMode: tele.ParseMode(pm)})
	})
}

// withPlainRetry runs send with mode, and once more without a parse mode if
// Telegram rejected the markup.
func (t *Transport) withPlainRetry(ctx context.Context, mode string, send func(mode string) (*tele.Message, error)) (*tele.Message, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	m, err := send(mode)
	if err == nil || mode == "" || !isParseError(err) {
		return m, err
	}
	t.log.Debug("parse mode rejected, retrying as plain text", logx.String("mode", mode), logx.Err(err))
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return send("")
}

func (t *Transport) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &transport.Error{Platform: platform, Message: "rate limiter wait", Err: err}
	}
	return nil
}

func (t *Transport) download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := t.fetch.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("image download: HTTP %d", resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}
			b, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
			if err != nil {
				return err
			}
			if len(b) > maxPhotoBytes {
				return retry.Unrecoverable(errors.New("image exceeds telegram photo size limit"))
			}
			if len(b) == 0 {
				return retry.Unrecoverable(errors.New("image download: empty body"))
			}
			data = b
			return nil
		},
		retry.Attempts(t.cfg.DownloadAttempts),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
	)
	return data, err
}

func (t *Transport) botFor(ctx context.Context) (*tele.Bot, error) {
	set, err := t.creds.Get(ctx)
	if err != nil {
		return nil, &transport.Error{Platform: platform, Kind: transport.KindAuthFailure, Message: "load credentials", Err: err}
	}
	token := strings.TrimSpace(set.Telegram.Token)
	if token == "" {
		return nil, &transport.Error{Platform: platform, Kind: transport.KindAuthFailure, Message: "bot token is not configured"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil && t.token == token {
		return t.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     t.cfg.APIURL,
		Token:   token,
		Client:  t.client,
		Offline: true,
	})
	if err != nil {
		return nil, &transport.Error{Platform: platform, Message: "init bot", Err: err}
	}
	if t.bot != nil {
		t.log.Info("bot token changed, client rebuilt")
	}
	t.bot, t.token = b, token
	return b, nil
}

func isRemote(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// isParseError reports Telegram rejecting the message markup. The API has no
// dedicated code for it, only a 400 with this description.
func isParseError(err error) bool {
	if apiCode(err) != http.StatusBadRequest {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "can't parse") || strings.Contains(s, "parse entities")
}

// codeSuffix matches the "(<code>)" telebot appends to descriptions it has no
// sentinel *tele.Error for.
var codeSuffix = regexp.MustCompile(`\((\d{3})\)$`)

// apiCode extracts the Bot API error code, or 0 when err did not come from the API.
func apiCode(err error) int {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return http.StatusTooManyRequests
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if m := codeSuffix.FindStringSubmatch(strings.TrimSpace(err.Error())); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// classify maps telebot failures onto transport kinds. A 404 from the Bot API
// means the token does not name a bot.
func classify(err error) *transport.Error {
	var te *transport.Error
	if errors.As(err, &te) {
		return te
	}
	out := &transport.Error{Platform: platform, Kind: transport.KindOther, Err: err}
	code := apiCode(err)
	if code != 0 {
		out.Code = strconv.Itoa(code)
	}
	switch code {
	case http.StatusUnauthorized, http.StatusNotFound:
		out.Kind = transport.KindAuthFailure
	case http.StatusTooManyRequests:
		out.Kind = transport.KindRateLimited
	}
	return out
}
