// Package credential pulls the ephemeral session token and secret key out of
// browser-side state after a UI-driven login. Both lookups are best-effort
// and independently retried; the caller decides whether a partial result is
// usable.
package credential

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/zhangMonday/jlc-auto-check-in/internal/browser"
)

// ErrExtractionFailed is returned when a lookup exhausts its retries.
var ErrExtractionFailed = errors.New("credential extraction failed")

// tokenKey is the primary localStorage key; fallbackTokenKeys are probed in
// order when it is absent.
const tokenKey = "X-JLC-AccessToken"

var fallbackTokenKeys = []string{
	"x-jlc-accesstoken",
	"accessToken",
	"token",
	"jlc-token",
}

// secretHeaderVariants are the header-name casings observed in the wild;
// the first match wins.
var secretHeaderVariants = []string{
	"secretkey",
	"SecretKey",
	"secretKey",
	"SECRETKEY",
}

// Credentials are valid only within the browser session that produced them
// and are re-derived on every attempt, never persisted.
type Credentials struct {
	AccessToken string
	SecretKey   string
}

// PageState is the slice of the browser session the extractor reads.
type PageState interface {
	ReadStorage(ctx context.Context, key string) (string, error)
	CapturedRequests() []browser.CapturedRequest
}

// Extractor retries each lookup with a jittered delay up to a fixed ceiling.
type Extractor struct {
	logger   *zap.Logger
	attempts int
	delay    time.Duration
	sleep    func(time.Duration)
}

// NewExtractor returns an extractor with the standard retry policy.
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{
		logger:   logger.Named("credential"),
		attempts: 5,
		delay:    time.Second,
		sleep:    time.Sleep,
	}
}

// Token reads the access token from localStorage, probing the fallback keys
// when the primary one is absent.
func (e *Extractor) Token(ctx context.Context, ps PageState) (string, error) {
	return e.withRetry(ctx, "token", func() (string, bool) {
		if v, err := ps.ReadStorage(ctx, tokenKey); err == nil && v != "" {
			return v, true
		}
		for _, key := range fallbackTokenKeys {
			if v, err := ps.ReadStorage(ctx, key); err == nil && v != "" {
				e.logger.Debug("token found under fallback key", zap.String("key", key))
				return v, true
			}
		}
		return "", false
	})
}

// Secret scans the captured network traffic for the first exchange exposing
// the secret header under any known casing.
func (e *Extractor) Secret(ctx context.Context, ps PageState) (string, error) {
	return e.withRetry(ctx, "secret", func() (string, bool) {
		for _, req := range ps.CapturedRequests() {
			for _, name := range secretHeaderVariants {
				if v, ok := req.Headers[name]; ok && v != "" {
					return v, true
				}
			}
		}
		return "", false
	})
}

// Extract runs both lookups and reports which succeeded. A partially filled
// Credentials value is still returned so the caller can log what it got.
func (e *Extractor) Extract(ctx context.Context, ps PageState) (creds Credentials, tokenOK, secretOK bool) {
	if token, err := e.Token(ctx, ps); err == nil {
		creds.AccessToken = token
		tokenOK = true
	} else {
		e.logger.Warn("access token not found", zap.Error(err))
	}

	if secret, err := e.Secret(ctx, ps); err == nil {
		creds.SecretKey = secret
		secretOK = true
	} else {
		e.logger.Warn("secret key not found", zap.Error(err))
	}
	return creds, tokenOK, secretOK
}

func (e *Extractor) withRetry(ctx context.Context, what string, lookup func() (string, bool)) (string, error) {
	for attempt := 0; attempt < e.attempts; attempt++ {
		if v, ok := lookup(); ok {
			return v, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < e.attempts-1 {
			e.sleep(e.delay + time.Duration(rand.Int63n(int64(time.Second))))
		}
	}
	e.logger.Debug("lookup exhausted retries", zap.String("what", what), zap.Int("attempts", e.attempts))
	return "", ErrExtractionFailed
}
