// Package browser drives a Chrome instance for one login attempt: navigation,
// element interaction, localStorage reads, the slider-challenge drag, and
// capture of request headers from the page's own network traffic.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrElementNotFound is returned when a selector does not resolve within its
// wait budget.
var ErrElementNotFound = errors.New("element not found")

// Config holds browser launch configuration.
type Config struct {
	Bin                 string
	Headless            bool
	ViewportWidth       int
	ViewportHeight      int
	NavigationTimeoutMs int
	DisableImages       bool
	// CaptureHost limits network-header capture to requests touching this
	// host. Empty disables capture.
	CaptureHost string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 30000,
		DisableImages:       true,
	}
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// CapturedRequest is one observed network exchange with the capture host.
// Headers keep their original case so callers can match exact variants.
type CapturedRequest struct {
	URL          string
	Headers      map[string]string
	FromResponse bool
}

// Session owns one exclusive Chrome instance and page for the lifetime of a
// single attempt. It is not safe for concurrent use; attempts are sequential.
type Session struct {
	ID     string
	cfg    Config
	logger *zap.Logger

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	mu       sync.Mutex
	captured []CapturedRequest
}

// NewSession launches Chrome, opens a stealth page, and starts header capture.
func NewSession(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	l = l.Set(flags.Flag("no-sandbox")).
		Set(flags.Flag("disable-dev-shm-usage")).
		Set(flags.Flag("disable-gpu")).
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", cfg.ViewportWidth, cfg.ViewportHeight)).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	if cfg.DisableImages {
		l = l.Set(flags.Flag("blink-settings"), "imagesEnabled=false")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logger.Warn("failed to set viewport", zap.Error(err))
	}

	s := &Session{
		ID:       uuid.NewString(),
		cfg:      cfg,
		logger:   logger.Named("browser"),
		launcher: l,
		browser:  b,
		page:     page,
	}
	if cfg.CaptureHost != "" {
		s.startCapture(ctx)
	}
	return s, nil
}

// startCapture records request headers from CDP network events. Both the
// outgoing request and the request-headers echo on the response are kept,
// since either side may carry the session secret.
func (s *Session) startCapture(ctx context.Context) {
	page := s.page.Context(ctx)
	go page.EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Request == nil || !strings.Contains(ev.Request.URL, s.cfg.CaptureHost) {
				return
			}
			s.record(CapturedRequest{
				URL:     ev.Request.URL,
				Headers: headerMap(ev.Request.Headers),
			})
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil || !strings.Contains(ev.Response.URL, s.cfg.CaptureHost) {
				return
			}
			if len(ev.Response.RequestHeaders) == 0 {
				return
			}
			s.record(CapturedRequest{
				URL:          ev.Response.URL,
				Headers:      headerMap(ev.Response.RequestHeaders),
				FromResponse: true,
			})
		},
	)()
}

func (s *Session) record(r CapturedRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = append(s.captured, r)
}

func headerMap(h proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}

// CapturedRequests returns a copy of everything recorded so far.
func (s *Session) CapturedRequests() []CapturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedRequest, len(s.captured))
	copy(out, s.captured)
	return out
}

// Navigate loads a URL and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout())
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return page.WaitLoad()
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	page := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout())
	if err := page.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return page.WaitLoad()
}

// CurrentURL reports the page's current URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// WaitURL polls the current URL once per second until match returns true or
// the timeout elapses.
func (s *Session) WaitURL(ctx context.Context, timeout time.Duration, match func(string) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		url, err := s.CurrentURL(ctx)
		if err == nil && match(url) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
}

// WaitElement blocks until the selector resolves or the timeout elapses.
func (s *Session) WaitElement(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := s.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// Click clicks the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := s.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// ClickText clicks the first element matching the selector whose text matches
// the given regular expression.
func (s *Session) ClickText(ctx context.Context, selector, textRegex string, timeout time.Duration) error {
	el, err := s.page.Context(ctx).Timeout(timeout).ElementR(selector, textRegex)
	if err != nil {
		return fmt.Errorf("%w: %s %q", ErrElementNotFound, selector, textRegex)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// TypeInto clears the element matching the selector and types the text.
func (s *Session) TypeInto(ctx context.Context, selector, text string, timeout time.Duration) error {
	el, err := s.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	return el.Input(text)
}

// ElementTexts returns the visible text of every element currently matching
// the selector. It does not wait for elements to appear.
func (s *Session) ElementTexts(ctx context.Context, selector string) ([]string, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(els))
	for _, el := range els {
		if t, err := el.Text(); err == nil {
			texts = append(texts, t)
		}
	}
	return texts, nil
}

// ReadStorage reads one key from the page's localStorage.
func (s *Session) ReadStorage(ctx context.Context, key string) (string, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           `(key) => window.localStorage.getItem(key)`,
		JSArgs:       []interface{}{key},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", fmt.Errorf("read localStorage %q: %w", key, err)
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

// Scroll scrolls the window to the given vertical offset.
func (s *Session) Scroll(ctx context.Context, y int) error {
	_, err := s.page.Context(ctx).Eval(fmt.Sprintf(`() => window.scrollTo(0, %d)`, y))
	return err
}

// DragSlider drags the slider handle across its track with randomized
// intermediate offsets and pacing. The distance is the track width minus the
// handle width minus a small margin.
func (s *Session) DragSlider(ctx context.Context, handleSelector, trackSelector string, timeout time.Duration) error {
	page := s.page.Context(ctx)

	handle, err := page.Timeout(timeout).Element(handleSelector)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, handleSelector)
	}
	track, err := page.Timeout(timeout).Element(trackSelector)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, trackSelector)
	}

	handleShape, err := handle.Shape()
	if err != nil {
		return fmt.Errorf("handle shape: %w", err)
	}
	trackShape, err := track.Shape()
	if err != nil {
		return fmt.Errorf("track shape: %w", err)
	}

	handleBox := handleShape.Box()
	trackBox := trackShape.Box()
	distance := trackBox.Width - handleBox.Width - 10
	if distance <= 0 {
		return fmt.Errorf("slider track too narrow: %.0fpx", trackBox.Width)
	}

	startX := handleBox.X + handleBox.Width/2
	startY := handleBox.Y + handleBox.Height/2
	s.logger.Debug("dragging slider", zap.Float64("distance", distance))

	mouse := s.page.Mouse
	if err := mouse.MoveTo(proto.NewPoint(startX, startY)); err != nil {
		return fmt.Errorf("move to handle: %w", err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("press handle: %w", err)
	}
	time.Sleep(500 * time.Millisecond)

	// Fast segment covering 60-80% of the distance, then a slow remainder,
	// each with a couple pixels of vertical jitter.
	quick := distance * (0.6 + rand.Float64()*0.2)
	if err := mouse.MoveTo(proto.NewPoint(startX+quick, startY+float64(rand.Intn(5)-2))); err != nil {
		_ = mouse.Up(proto.InputMouseButtonLeft, 1)
		return fmt.Errorf("drag fast segment: %w", err)
	}
	time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)

	if err := mouse.MoveTo(proto.NewPoint(startX+distance, startY+float64(rand.Intn(5)-2))); err != nil {
		_ = mouse.Up(proto.InputMouseButtonLeft, 1)
		return fmt.Errorf("drag slow segment: %w", err)
	}
	time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)

	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("release handle: %w", err)
	}
	return nil
}

// Close tears down the page, the browser, and the launcher's temp profile.
// Safe to call on every exit path.
func (s *Session) Close() {
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}
