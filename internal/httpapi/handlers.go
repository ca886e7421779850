package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"promocast/internal/config"
	"promocast/internal/domain"
	"promocast/internal/intake"
	"promocast/internal/storage"
	logx "promocast/pkg/logx"
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	ev, opts, err := intake.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.deps.Dispatcher.Dispatch(r.Context(), ev, opts)
	if err != nil {
		s.dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// testRequest optionally overrides the synthetic event of a channel test.
type testRequest struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// testChannel sends a synthetic (or supplied) event to one channel, bypassing
// dedup and segmentation.
func (s *Server) testChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var req testRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	env := intake.Envelope{Type: req.Type, Payload: req.Payload, Manual: true, ChannelIDs: []string{id}}
	if env.Type == "" {
		env.Type = domain.EventPromotionNew
	}
	if len(env.Payload) == 0 {
		env.Payload = syntheticPayload(env.Type)
	}
	ev, opts, err := env.Event()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts.SkipSegmentation = true
	res, err := s.deps.Dispatcher.Dispatch(r.Context(), ev, opts)
	if err != nil {
		s.dispatchError(w, err)
		return
	}
	s.deps.Log.Info("channel test sent", logx.String("channel", id), logx.Bool("success", res.Success))
	writeJSON(w, http.StatusOK, res)
}

func syntheticPayload(t domain.EventType) json.RawMessage {
	id := "test-" + uuid.NewString()
	var p map[string]any
	switch t {
	case domain.EventCouponNew:
		p = map[string]any{"id": id, "code": "PROMOCAST", "title": "Cupom de teste", "discount": "10%"}
	case domain.EventCouponExpired:
		p = map[string]any{"id": id, "code": "PROMOCAST", "title": "Cupom de teste"}
	default:
		p = map[string]any{"id": id, "title": "Produto de teste", "price": 99.9, "old_price": 129.9, "affiliate_link": "https://example.com"}
	}
	b, _ := json.Marshal(p)
	return b
}

func (s *Server) dispatchError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.deps.Log.Error("dispatch failed", logx.Err(err))
	writeError(w, http.StatusInternalServerError, err)
}

// stats accepts ?since= as a Go duration ("24h") or an RFC3339 time. Default 24h.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"), s.deps.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := s.deps.Stats.DeliveryStats(r.Context(), since)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.deps.Log.Error("delivery stats failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Add(-24 * time.Hour), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := config.ParseDuration(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("since: want a duration or RFC3339 time, got %q", raw)
	}
	return now.Add(-d), nil
}

func (s *Server) invalidateCredentials(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Credentials == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no credential cache configured"))
		return
	}
	s.deps.Credentials.Invalidate()
	s.deps.Log.Info("transport credentials invalidated")
	w.WriteHeader(http.StatusNoContent)
}
