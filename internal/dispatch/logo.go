package dispatch

import (
	"os"
	"path/filepath"
	"strings"

	"promocast/internal/domain"
	logx "promocast/pkg/logx"
)

const genericLogo = "generic.png"

// injectLogo gives a coupon_new event without an image the logo of its source
// platform, falling back to the generic logo. A missing logo is never an error.
func (d *Dispatcher) injectLogo(ev domain.Event) domain.Event {
	if ev.Type() != domain.EventCouponNew || strings.TrimSpace(ev.Meta().ImageURL) != "" || d.cfg.LogosDir == "" {
		return ev
	}
	var candidates []string
	if p := strings.ToLower(strings.TrimSpace(ev.Meta().SourcePlatform)); p != "" && !strings.ContainsAny(p, `/\.`) {
		candidates = append(candidates, p+".png")
	}
	candidates = append(candidates, genericLogo)

	for _, name := range candidates {
		path := filepath.Join(d.cfg.LogosDir, name)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return ev.WithImage(path)
		}
	}
	d.Log.Debug("no logo found for coupon", logx.String("platform", ev.Meta().SourcePlatform), logx.String("dir", d.cfg.LogosDir))
	return ev
}
