package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"promocast/internal/domain"
	"promocast/internal/segment"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names ("dispatch.timeout") instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("godur", validateDuration)
	_ = v.RegisterValidation("cronspec", validateCron)
	return v
}

func validateDuration(fl validator.FieldLevel) bool {
	_, err := ParseDuration(fl.Field().String())
	return err == nil
}

func validateCron(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}

// Validate checks cfg for values the process cannot run with.
// All problems are reported at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		for _, fe := range ve {
			errs = append(errs, fmt.Errorf("%s: failed %q%s", fieldPath(fe.Namespace()), fe.Tag(), param(fe.Param())))
		}
	}
	errs = append(errs, validateChannels(cfg.Channels, cfg.WhatsApp.OpenerTemplate)...)
	return errors.Join(errs...)
}

func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func param(p string) string {
	if p == "" {
		return ""
	}
	return " (" + p + ")"
}

// validateChannels checks seeded channels. WhatsApp channels need an opener
// template, otherwise a closed session window can never be reopened.
func validateChannels(chs []domain.Channel, opener string) []error {
	var errs []error
	seen := make(map[string]bool, len(chs))
	for i, ch := range chs {
		at := fmt.Sprintf("channels[%d]", i)
		if strings.TrimSpace(ch.ID) == "" {
			errs = append(errs, fmt.Errorf("%s.id: required", at))
		} else if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("%s.id: duplicate %q", at, ch.ID))
		}
		seen[ch.ID] = true
		if !ch.Platform.Valid() {
			errs = append(errs, fmt.Errorf("%s.platform: unknown %q", at, ch.Platform))
		}
		if ch.Platform == domain.PlatformWhatsApp && strings.TrimSpace(opener) == "" {
			errs = append(errs, fmt.Errorf("%s.platform: whatsapp channels require whatsapp.opener_template", at))
		}
		if strings.TrimSpace(ch.Identifier) == "" {
			errs = append(errs, fmt.Errorf("%s.identifier: required", at))
		}
		for _, b := range [...]struct{ field, raw string }{{"schedule_start", ch.ScheduleStart}, {"schedule_end", ch.ScheduleEnd}} {
			if b.raw == "" {
				continue
			}
			if _, err := segment.ParseClock(b.raw); err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", at, b.field, err))
			}
		}
		if ch.AvoidDuplicatesHours != nil && *ch.AvoidDuplicatesHours < 0 {
			errs = append(errs, fmt.Errorf("%s.avoid_duplicates_hours: must be >= 0", at))
		}
	}
	return errs
}
