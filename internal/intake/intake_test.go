package intake

import (
	"context"
	"errors"
	"testing"

	"promocast/internal/dispatch"
	"promocast/internal/domain"
	logx "promocast/pkg/logx"
)

type recordingDispatcher struct {
	got  []domain.Event
	opts []dispatch.Options
	err  error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev domain.Event, opts dispatch.Options) (domain.DispatchResult, error) {
	r.got = append(r.got, ev)
	r.opts = append(r.opts, opts)
	if r.err != nil {
		return domain.DispatchResult{}, r.err
	}
	return domain.DispatchResult{Success: true, Total: 1, Sent: 1}, nil
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr error
		check   func(*testing.T, domain.Event, dispatch.Options)
	}{
		{
			name: "coupon",
			in:   `{"type":"coupon_new","payload":{"id":"c1","code":"SAVE10","platform":"shopee"},"manual":true}`,
			check: func(t *testing.T, ev domain.Event, opts dispatch.Options) {
				if ev.Type() != domain.EventCouponNew || ev.CouponCode() != "SAVE10" || !opts.Manual {
					t.Fatalf("ev=%+v opts=%+v", ev, opts)
				}
			},
		},
		{
			name: "channel restriction",
			in:   `{"type":"promotion_new","payload":{"id":7},"channel_ids":["a"]}`,
			check: func(t *testing.T, ev domain.Event, opts dispatch.Options) {
				if ev.Entity().ID != "7" || len(opts.ChannelIDs) != 1 {
					t.Fatalf("ev=%+v opts=%+v", ev, opts)
				}
			},
		},
		{name: "unknown type", in: `{"type":"flash_sale","payload":{"id":"x"}}`, wantErr: domain.ErrUnknownEventType},
		{name: "no id", in: `{"type":"coupon_new","payload":{}}`, wantErr: domain.ErrMissingEntityID},
		{name: "not json", in: `nope`, wantErr: ErrBadEnvelope},
		{name: "unknown field", in: `{"type":"coupon_new","payload":{"id":"c"},"priority":1}`, wantErr: ErrBadEnvelope},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, opts, err := Decode([]byte(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, ev, opts)
		})
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	disp := &recordingDispatcher{}
	s := NewSubscriber(Config{Subject: "promocast.events"}, disp, logx.Nop())

	reply := s.Handle(context.Background(), []byte(`{"type":"coupon_expired","payload":{"id":"c1"}}`))
	if reply.Error != "" || reply.Result == nil || reply.Result.Sent != 1 {
		t.Fatalf("reply=%+v", reply)
	}
	if len(disp.got) != 1 || disp.got[0].Type() != domain.EventCouponExpired {
		t.Fatalf("dispatched=%+v", disp.got)
	}

	if reply := s.Handle(context.Background(), []byte(`{}`)); reply.Error == "" {
		t.Fatal("empty envelope must be rejected")
	}
	if len(disp.got) != 1 {
		t.Fatal("rejected envelope reached the dispatcher")
	}

	disp.err = errors.New("db down")
	if reply := s.Handle(context.Background(), []byte(`{"type":"coupon_new","payload":{"id":"c2"}}`)); reply.Error != "db down" {
		t.Fatalf("reply=%+v", reply)
	}
}
