// Package intake accepts events from upstream producers and hands them to the dispatcher.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"promocast/internal/dispatch"
	"promocast/internal/domain"
)

var ErrBadEnvelope = errors.New("malformed event envelope")

// Envelope is the wire shape shared by the NATS and HTTP intakes.
type Envelope struct {
	Type       domain.EventType `json:"type"`
	Payload    json.RawMessage  `json:"payload"`
	Manual     bool             `json:"manual,omitempty"`
	ChannelIDs []string         `json:"channel_ids,omitempty"`
}

// Dispatcher is the part of dispatch.Dispatcher the intakes need.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event, opts dispatch.Options) (domain.DispatchResult, error)
}

// Decode parses an envelope into an event and its dispatch options.
func Decode(data []byte) (domain.Event, dispatch.Options, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, dispatch.Options{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return env.Event()
}

func (e Envelope) Event() (domain.Event, dispatch.Options, error) {
	ev, err := domain.DecodeEvent(e.Type, e.Payload)
	if err != nil {
		return nil, dispatch.Options{}, err
	}
	return ev, dispatch.Options{Manual: e.Manual, ChannelIDs: e.ChannelIDs}, nil
}

// Reply is what a request-reply producer gets back.
type Reply struct {
	Error  string                 `json:"error,omitempty"`
	Result *domain.DispatchResult `json:"result,omitempty"`
}
