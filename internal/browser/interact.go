package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// navXPaths are tried in order to reach the profile-center page; the first
// clickable match wins. Misses are not errors.
var navXPaths = []string{
	`//div[contains(text(), "我的")]`,
	`//div[contains(text(), "个人中心")]`,
	`//div[contains(text(), "用户中心")]`,
	`//a[contains(@href, "user")]`,
	`//a[contains(@href, "center")]`,
}

// Interact scrolls and navigates around the logged-in page to trigger the
// background API calls whose headers carry the session secret, then reloads
// so the capture stream sees a fresh batch.
func (s *Session) Interact(ctx context.Context) error {
	page := s.page.Context(ctx)
	if err := page.Timeout(12 * time.Second).WaitLoad(); err != nil {
		return err
	}

	_ = s.Scroll(ctx, 300)

	for _, xp := range navXPaths {
		el, err := page.Timeout(5 * time.Second).ElementX(xp)
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			continue
		}
		s.logger.Debug("clicked nav element", zap.String("xpath", xp))
		_ = page.Timeout(10 * time.Second).WaitLoad()
		break
	}

	_ = s.Scroll(ctx, 500)
	return s.Reload(ctx)
}
