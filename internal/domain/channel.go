// Package domain holds the records the dispatch core reads and writes.
package domain

import "strings"

// Platform identifies the messaging network a channel lives on.
type Platform string

const (
	PlatformTelegram    Platform = "telegram"
	PlatformWhatsApp    Platform = "whatsapp"
	PlatformWhatsAppWeb Platform = "whatsapp_web"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformWhatsApp, PlatformWhatsAppWeb:
		return true
	}
	return false
}

// ContentFilter supersedes the legacy OnlyCoupons/NoCoupons flags when present.
type ContentFilter struct {
	AcceptsProducts bool `json:"products"`
	AcceptsCoupons  bool `json:"coupons"`
}

// Channel is a configured recipient endpoint. The dispatcher only reads it.
type Channel struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Platform   Platform `json:"platform"`
	Identifier string   `json:"identifier"`
	IsActive   bool     `json:"is_active"`

	ContentFilter *ContentFilter `json:"content_filter,omitempty"`
	OnlyCoupons   bool           `json:"only_coupons,omitempty"`
	NoCoupons     bool           `json:"no_coupons,omitempty"`

	CategoryFilter []string `json:"category_filter,omitempty"`
	PlatformFilter []string `json:"platform_filter,omitempty"`

	// ScheduleStart and ScheduleEnd are "HH:MM" local times; start > end spans midnight.
	ScheduleStart string `json:"schedule_start,omitempty"`
	ScheduleEnd   string `json:"schedule_end,omitempty"`

	MinOfferScore        *float64 `json:"min_offer_score,omitempty"`
	AvoidDuplicatesHours *int     `json:"avoid_duplicates_hours,omitempty"`

	// ParseMode is the telegram text mode ("HTML", "Markdown", "MarkdownV2" or "").
	ParseMode string `json:"parse_mode,omitempty"`
}

// LegacyFlagConflict reports a channel with both legacy content flags set.
// OnlyCoupons takes precedence in that case.
func (c Channel) LegacyFlagConflict() bool {
	return c.ContentFilter == nil && c.OnlyCoupons && c.NoCoupons
}

// Label is a short human readable reference used in logs.
func (c Channel) Label() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n + " (" + c.ID + ")"
	}
	return c.ID
}
