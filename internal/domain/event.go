package domain

import (
	"strconv"
	"time"
)

// EventType enumerates the domain events the core fans out.
type EventType string

const (
	EventPromotionNew  EventType = "promotion_new"
	EventCouponNew     EventType = "coupon_new"
	EventCouponExpired EventType = "coupon_expired"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPromotionNew, EventCouponNew, EventCouponExpired:
		return true
	}
	return false
}

// IsCoupon reports whether the event is a standalone coupon event.
func (t EventType) IsCoupon() bool {
	return t == EventCouponNew || t == EventCouponExpired
}

// EntityType is the kind of entity a ledger row refers to.
type EntityType string

const (
	EntityProduct EntityType = "product"
	EntityCoupon  EntityType = "coupon"
)

// EntityRef names the entity an event is about.
type EntityRef struct {
	Type EntityType
	ID   string
}

// Meta carries the fields segmentation and image handling look at.
type Meta struct {
	CategoryID     string
	SourcePlatform string
	OfferScore     *float64
	ImageURL       string
}

// Event is one of PromotionEvent, CouponNewEvent or CouponExpiredEvent.
//
// Implementations are value types: WithImage returns a modified copy and never
// touches the receiver, so a caller's event survives a dispatch unchanged.
type Event interface {
	Type() EventType
	Entity() EntityRef
	Meta() Meta
	// CouponCode returns the published code for coupon events, "" otherwise.
	CouponCode() string
	// TemplateKind selects the template family; a promotion with a linked
	// coupon renders with its own kind.
	TemplateKind() string
	// Vars is the variable bag handed to the template renderer.
	Vars() map[string]any
	WithImage(ref string) Event
}

// LinkedCoupon is a coupon referenced by a product promotion.
type LinkedCoupon struct {
	Code       string     `json:"code"`
	Discount   string     `json:"discount,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// PromotionEvent announces a new product promotion.
type PromotionEvent struct {
	ProductID       string
	Title           string
	Price           float64
	OldPrice        float64
	DiscountPercent float64
	AffiliateLink   string
	CategoryID      string
	SourcePlatform  string
	OfferScore      *float64
	ImageURL        string
	Coupon          *LinkedCoupon
}

func (e PromotionEvent) Type() EventType { return EventPromotionNew }

func (e PromotionEvent) Entity() EntityRef { return EntityRef{Type: EntityProduct, ID: e.ProductID} }

func (e PromotionEvent) Meta() Meta {
	return Meta{CategoryID: e.CategoryID, SourcePlatform: e.SourcePlatform, OfferScore: cloneFloat(e.OfferScore), ImageURL: e.ImageURL}
}

func (e PromotionEvent) CouponCode() string { return "" }

func (e PromotionEvent) TemplateKind() string {
	if e.Coupon != nil && e.Coupon.Code != "" {
		return TemplateKindPromotionWithCoupon
	}
	return string(EventPromotionNew)
}

func (e PromotionEvent) Vars() map[string]any {
	v := map[string]any{
		"id":               e.ProductID,
		"product_id":       e.ProductID,
		"title":            e.Title,
		"price":            e.Price,
		"old_price":        e.OldPrice,
		"discount_percent": e.DiscountPercent,
		"affiliate_link":   e.AffiliateLink,
		"category_id":      e.CategoryID,
		"platform":         e.SourcePlatform,
		"image_url":        e.ImageURL,
		"has_coupon":       false,
	}
	if e.OfferScore != nil {
		v["offer_score"] = *e.OfferScore
	}
	if e.Coupon != nil {
		v["has_coupon"] = e.Coupon.Code != ""
		v["coupon_code"] = e.Coupon.Code
		v["coupon_discount"] = e.Coupon.Discount
		v["coupon_valid_until"] = formatDate(e.Coupon.ValidUntil)
	}
	return v
}

func (e PromotionEvent) WithImage(ref string) Event {
	e.ImageURL = ref
	e.OfferScore = cloneFloat(e.OfferScore)
	if e.Coupon != nil {
		c := *e.Coupon
		e.Coupon = &c
	}
	return e
}

// CouponNewEvent announces a newly discovered coupon.
type CouponNewEvent struct {
	CouponID       string
	Code           string
	SourcePlatform string
	Title          string
	Discount       string
	MinPurchase    float64
	ValidUntil     *time.Time
	AffiliateLink  string
	CategoryID     string
	OfferScore     *float64
	ImageURL       string
}

func (e CouponNewEvent) Type() EventType { return EventCouponNew }

func (e CouponNewEvent) Entity() EntityRef { return EntityRef{Type: EntityCoupon, ID: e.CouponID} }

func (e CouponNewEvent) Meta() Meta {
	return Meta{CategoryID: e.CategoryID, SourcePlatform: e.SourcePlatform, OfferScore: cloneFloat(e.OfferScore), ImageURL: e.ImageURL}
}

func (e CouponNewEvent) CouponCode() string { return e.Code }

func (e CouponNewEvent) TemplateKind() string { return string(EventCouponNew) }

func (e CouponNewEvent) Vars() map[string]any {
	v := map[string]any{
		"id":             e.CouponID,
		"coupon_id":      e.CouponID,
		"code":           e.Code,
		"platform":       e.SourcePlatform,
		"title":          e.Title,
		"discount":       e.Discount,
		"min_purchase":   e.MinPurchase,
		"valid_until":    formatDate(e.ValidUntil),
		"affiliate_link": e.AffiliateLink,
		"category_id":    e.CategoryID,
		"image_url":      e.ImageURL,
	}
	if e.OfferScore != nil {
		v["offer_score"] = *e.OfferScore
	}
	return v
}

func (e CouponNewEvent) WithImage(ref string) Event {
	e.ImageURL = ref
	e.OfferScore = cloneFloat(e.OfferScore)
	e.ValidUntil = cloneTime(e.ValidUntil)
	return e
}

// CouponExpiredEvent announces that a previously published coupon stopped working.
type CouponExpiredEvent struct {
	CouponID       string
	Code           string
	SourcePlatform string
	Title          string
	ExpiredAt      *time.Time
	CategoryID     string
	ImageURL       string
}

func (e CouponExpiredEvent) Type() EventType { return EventCouponExpired }

func (e CouponExpiredEvent) Entity() EntityRef { return EntityRef{Type: EntityCoupon, ID: e.CouponID} }

func (e CouponExpiredEvent) Meta() Meta {
	return Meta{CategoryID: e.CategoryID, SourcePlatform: e.SourcePlatform, ImageURL: e.ImageURL}
}

func (e CouponExpiredEvent) CouponCode() string { return e.Code }

func (e CouponExpiredEvent) TemplateKind() string { return string(EventCouponExpired) }

func (e CouponExpiredEvent) Vars() map[string]any {
	return map[string]any{
		"id":          e.CouponID,
		"coupon_id":   e.CouponID,
		"code":        e.Code,
		"platform":    e.SourcePlatform,
		"title":       e.Title,
		"expired_at":  formatDate(e.ExpiredAt),
		"category_id": e.CategoryID,
		"image_url":   e.ImageURL,
	}
}

func (e CouponExpiredEvent) WithImage(ref string) Event {
	e.ImageURL = ref
	e.ExpiredAt = cloneTime(e.ExpiredAt)
	return e
}

// TemplateKindPromotionWithCoupon is the template family for a product that references a coupon.
const TemplateKindPromotionWithCoupon = "promotion_new_coupon"

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}

// FormatScore renders an offer score for logs.
func FormatScore(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
