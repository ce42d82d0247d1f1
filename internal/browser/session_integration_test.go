//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhangMonday/jlc-auto-check-in/internal/browser"
)

// Requires a local Chrome; run with -tags integration.
func TestSession_StorageAndCapture(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `<html><body><h1 class="title">hello</h1>
			<script>
				localStorage.setItem('X-JLC-AccessToken', 'tok-123');
				fetch('/api/ping', {headers: {'secretkey': 'sec-456'}});
			</script></body></html>`)
	}))
	defer ts.Close()

	cfg := browser.DefaultConfig()
	cfg.CaptureHost = "127.0.0.1"

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := browser.NewSession(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Navigate(ctx, ts.URL))

	tok, err := s.ReadStorage(ctx, "X-JLC-AccessToken")
	require.NoError(t, err)
	require.Equal(t, "tok-123", tok)

	texts, err := s.ElementTexts(ctx, ".title")
	require.NoError(t, err)
	require.Contains(t, texts, "hello")

	require.Eventually(t, func() bool {
		for _, req := range s.CapturedRequests() {
			if req.Headers["secretkey"] == "sec-456" {
				return true
			}
		}
		return false
	}, 10*time.Second, 200*time.Millisecond)
}
