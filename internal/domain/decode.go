package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingEntityID  = errors.New("payload has no entity id")
)

// flexString accepts JSON strings and numbers; upstream producers are not consistent.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// flexFloat accepts numbers and numeric strings. A nil pointer means absent.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		f.v, f.set = v, true
		return nil
	}
	if err := json.Unmarshal(b, &f.v); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

type rawPayload struct {
	ID        flexString `json:"id"`
	ProductID flexString `json:"product_id"`
	CouponID  flexString `json:"coupon_id"`

	Title          string     `json:"title"`
	Name           string     `json:"name"`
	Price          flexFloat  `json:"price"`
	OldPrice       flexFloat  `json:"old_price"`
	Discount       flexString `json:"discount"`
	DiscountPct    flexFloat  `json:"discount_percentage"`
	AffiliateLink  string     `json:"affiliate_link"`
	CategoryID     flexString `json:"category_id"`
	Platform       string     `json:"platform"`
	OfferScore     flexFloat  `json:"offer_score"`
	ImageURL       string     `json:"image_url"`
	Code           string     `json:"code"`
	MinPurchase    flexFloat  `json:"min_purchase"`
	ValidUntil     string     `json:"valid_until"`
	ExpiredAt      string     `json:"expired_at"`
	CouponCode     string     `json:"coupon_code"`
	CouponDiscount flexString `json:"coupon_discount"`
	CouponValid    string     `json:"coupon_valid_until"`
	Coupon         *struct {
		Code       string     `json:"code"`
		Discount   flexString `json:"discount"`
		ValidUntil string     `json:"valid_until"`
	} `json:"coupon"`
}

// DecodeEvent builds the typed variant for eventType from a loosely typed JSON payload.
func DecodeEvent(eventType EventType, payload json.RawMessage) (Event, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	var p rawPayload
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
		}
	}
	title := p.Title
	if title == "" {
		title = p.Name
	}

	switch eventType {
	case EventPromotionNew:
		id := firstNonEmpty(string(p.ProductID), string(p.ID))
		if id == "" {
			return nil, ErrMissingEntityID
		}
		ev := PromotionEvent{
			ProductID:       id,
			Title:           title,
			Price:           p.Price.v,
			OldPrice:        p.OldPrice.v,
			DiscountPercent: p.DiscountPct.v,
			AffiliateLink:   p.AffiliateLink,
			CategoryID:      string(p.CategoryID),
			SourcePlatform:  normalizePlatform(p.Platform),
			OfferScore:      p.OfferScore.ptr(),
			ImageURL:        strings.TrimSpace(p.ImageURL),
		}
		switch {
		case p.Coupon != nil && p.Coupon.Code != "":
			ev.Coupon = &LinkedCoupon{Code: p.Coupon.Code, Discount: string(p.Coupon.Discount), ValidUntil: parseTime(p.Coupon.ValidUntil)}
		case p.CouponCode != "":
			ev.Coupon = &LinkedCoupon{Code: p.CouponCode, Discount: string(p.CouponDiscount), ValidUntil: parseTime(p.CouponValid)}
		}
		return ev, nil

	case EventCouponNew:
		id := firstNonEmpty(string(p.CouponID), string(p.ID))
		if id == "" {
			return nil, ErrMissingEntityID
		}
		return CouponNewEvent{
			CouponID:       id,
			Code:           strings.TrimSpace(p.Code),
			SourcePlatform: normalizePlatform(p.Platform),
			Title:          title,
			Discount:       string(p.Discount),
			MinPurchase:    p.MinPurchase.v,
			ValidUntil:     parseTime(p.ValidUntil),
			AffiliateLink:  p.AffiliateLink,
			CategoryID:     string(p.CategoryID),
			OfferScore:     p.OfferScore.ptr(),
			ImageURL:       strings.TrimSpace(p.ImageURL),
		}, nil

	default:
		id := firstNonEmpty(string(p.CouponID), string(p.ID))
		if id == "" {
			return nil, ErrMissingEntityID
		}
		return CouponExpiredEvent{
			CouponID:       id,
			Code:           strings.TrimSpace(p.Code),
			SourcePlatform: normalizePlatform(p.Platform),
			Title:          title,
			ExpiredAt:      parseTime(p.ExpiredAt),
			CategoryID:     string(p.CategoryID),
			ImageURL:       strings.TrimSpace(p.ImageURL),
		}, nil
	}
}

func normalizePlatform(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
