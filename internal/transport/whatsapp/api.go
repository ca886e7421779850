package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"promocast/internal/transport"
)

// Cloud API error codes.
const (
	codeReengagement    = 131047 // more than 24h since the customer last replied
	codeWindowClosed    = 131055
	codeAccessToken     = 190
	codeThrottled       = 4
	codeRateLimitHit    = 130429
	codeSpamRateLimit   = 131048
	codePairRateLimit   = 131056
	codeAppRateLimitHit = 80007
)

type sendRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             *textObject     `json:"text,omitempty"`
	Image            *imageObject    `json:"image,omitempty"`
	Template         *templateObject `json:"template,omitempty"`
}

type textObject struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type imageObject struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type templateObject struct {
	Name     string           `json:"name"`
	Language templateLanguage `json:"language"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

func textRequest(to, body string) sendRequest {
	return sendRequest{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text",
		Text: &textObject{PreviewURL: true, Body: body}}
}

func imageRequest(to string, img imageObject) sendRequest {
	return sendRequest{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "image", Image: &img}
}

func templateRequest(to, name, lang string) sendRequest {
	return sendRequest{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "template",
		Template: &templateObject{Name: name, Language: templateLanguage{Code: lang}}}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiErrorBody struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

type client struct {
	base    string
	version string
	http    *http.Client
}

func newClient(base, version string, timeout time.Duration) *client {
	return &client{base: strings.TrimRight(base, "/"), version: version, http: &http.Client{Timeout: timeout}}
}

func (c *client) endpoint(acc account, path string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.base, c.version, acc.phoneNumberID, path)
}

func (c *client) sendMessage(ctx context.Context, acc account, body sendRequest) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", &transport.Error{Platform: platform, Message: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(acc, "messages"), bytes.NewReader(b))
	if err != nil {
		return "", &transport.Error{Platform: platform, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req, acc)
	if err != nil {
		return "", err
	}
	var out sendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &transport.Error{Platform: platform, Message: "decode response", Err: err}
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", &transport.Error{Platform: platform, Err: errNoMessageID}
	}
	return out.Messages[0].ID, nil
}

func (c *client) uploadMedia(ctx context.Context, acc account, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &transport.Error{Platform: platform, Message: "open media", Err: err}
	}
	defer f.Close()

	ctype := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ctype == "" {
		ctype = "image/png"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("messaging_product", "whatsapp")
	_ = w.WriteField("type", ctype)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", ctype)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", &transport.Error{Platform: platform, Message: "build upload", Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", &transport.Error{Platform: platform, Message: "read media", Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &transport.Error{Platform: platform, Message: "build upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(acc, "media"), &buf)
	if err != nil {
		return "", &transport.Error{Platform: platform, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	data, err := c.do(req, acc)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.ID == "" {
		return "", &transport.Error{Platform: platform, Message: "media upload returned no id", Err: err}
	}
	return out.ID, nil
}

func (c *client) do(req *http.Request, acc account) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+acc.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transport.Error{Platform: platform, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &transport.Error{Platform: platform, Message: "read response", Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, classify(resp.StatusCode, data)
}

// classify turns an error response into a typed transport error.
func classify(status int, body []byte) *transport.Error {
	var eb apiErrorBody
	_ = json.Unmarshal(body, &eb)
	e := eb.Error
	out := &transport.Error{Platform: platform, Kind: transport.KindOther, Code: fmtCode(e.Code), Message: e.Message}
	if out.Message == "" {
		out.Message = fmt.Sprintf("HTTP %d", status)
	}
	if d := e.ErrorData.Details; d != "" && !strings.Contains(out.Message, d) {
		out.Message += ": " + d
	}
	if out.Code == "" {
		out.Code = fmtCode(status)
	}

	switch {
	case e.Code == codeWindowClosed || e.Code == codeReengagement:
		out.Kind = transport.KindWindowClosed
	case status == http.StatusUnauthorized || e.Code == codeAccessToken || e.Type == "OAuthException" && status == http.StatusForbidden:
		out.Kind = transport.KindAuthFailure
	case status == http.StatusTooManyRequests,
		e.Code == codeThrottled, e.Code == codeRateLimitHit, e.Code == codeSpamRateLimit,
		e.Code == codePairRateLimit, e.Code == codeAppRateLimitHit:
		out.Kind = transport.KindRateLimited
	}
	return out
}
