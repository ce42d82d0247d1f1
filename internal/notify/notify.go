// Package notify publishes the run report to the configured messaging
// services. Every sink runs in its own failure boundary: a broken webhook
// never hides the report from the others.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhangMonday/jlc-auto-check-in/internal/config"
)

// Sink delivers one report to one service.
type Sink interface {
	Name() string
	Send(ctx context.Context, title, body string) error
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// SinksFromConfig builds the active sinks. Services without credentials
// configured are silently skipped.
func SinksFromConfig(cfg config.NotifyConfig) []Sink {
	var sinks []Sink
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		sinks = append(sinks, NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WeComKey != "" {
		sinks = append(sinks, NewWeCom(cfg.WeComKey))
	}
	if cfg.DingTalkWebhook != "" {
		sinks = append(sinks, NewDingTalk(cfg.DingTalkWebhook))
	}
	if cfg.PushPlusToken != "" {
		sinks = append(sinks, NewPushPlus(cfg.PushPlusToken))
	}
	if cfg.ServerChanKey != "" {
		sinks = append(sinks, NewServerChan(cfg.ServerChanKey))
	}
	if cfg.CoolPushKey != "" {
		sinks = append(sinks, NewCoolPush(cfg.CoolPushKey))
	}
	if cfg.CustomWebhook != "" {
		sinks = append(sinks, NewCustomWebhook(cfg.CustomWebhook))
	}
	return sinks
}

// Fanout sends the report to every sink, logging per-sink failures.
func Fanout(ctx context.Context, sinks []Sink, title, body string, logger *zap.Logger) {
	log := logger.Named("notify")
	for _, s := range sinks {
		if err := s.Send(ctx, title, body); err != nil {
			log.Warn("notification failed", zap.String("sink", s.Name()), zap.Error(err))
			continue
		}
		log.Info("notification sent", zap.String("sink", s.Name()))
	}
}

func checkResponse(resp *http.Response) error {
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

// Telegram delivers via the Bot API sendMessage call.
type Telegram struct {
	Endpoint string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		Endpoint: "https://api.telegram.org/bot" + botToken + "/sendMessage",
		ChatID:   chatID,
		Client:   defaultClient(),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, title, body string) error {
	q := url.Values{}
	q.Set("chat_id", t.ChatID)
	q.Set("text", title+"\n\n"+body)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

// WeCom delivers to an enterprise WeChat group robot. The configured value
// may be the bare webhook key or the full webhook URL.
type WeCom struct {
	Endpoint string
	Client   *http.Client
}

func NewWeCom(keyOrURL string) *WeCom {
	endpoint := keyOrURL
	if !strings.HasPrefix(keyOrURL, "http") {
		endpoint = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=" + keyOrURL
	}
	return &WeCom{Endpoint: endpoint, Client: defaultClient()}
}

func (w *WeCom) Name() string { return "wecom" }

func (w *WeCom) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, w.Client, w.Endpoint, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": title + "\n\n" + body},
	})
}

// DingTalk delivers to a DingTalk group robot. The configured value may be
// the bare access token or the full webhook URL.
type DingTalk struct {
	Endpoint string
	Client   *http.Client
}

func NewDingTalk(tokenOrURL string) *DingTalk {
	endpoint := tokenOrURL
	if !strings.HasPrefix(tokenOrURL, "http") {
		endpoint = "https://oapi.dingtalk.com/robot/send?access_token=" + tokenOrURL
	}
	return &DingTalk{Endpoint: endpoint, Client: defaultClient()}
}

func (d *DingTalk) Name() string { return "dingtalk" }

func (d *DingTalk) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, d.Client, d.Endpoint, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": title + "\n\n" + body},
	})
}

// PushPlus delivers via the pushplus.plus relay.
type PushPlus struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewPushPlus(token string) *PushPlus {
	return &PushPlus{
		Endpoint: "https://www.pushplus.plus/send",
		Token:    token,
		Client:   defaultClient(),
	}
}

func (p *PushPlus) Name() string { return "pushplus" }

func (p *PushPlus) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, p.Client, p.Endpoint, map[string]string{
		"token":   p.Token,
		"title":   title,
		"content": body,
	})
}

// ServerChan delivers via the sctapi.ftqq.com relay using form encoding.
type ServerChan struct {
	Endpoint string
	Client   *http.Client
}

func NewServerChan(key string) *ServerChan {
	return &ServerChan{
		Endpoint: "https://sctapi.ftqq.com/" + key + ".send",
		Client:   defaultClient(),
	}
}

func (s *ServerChan) Name() string { return "serverchan" }

func (s *ServerChan) Send(ctx context.Context, title, body string) error {
	form := url.Values{}
	form.Set("title", title)
	form.Set("desp", body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

// CoolPush delivers via the push.xuthus.cc relay.
type CoolPush struct {
	Endpoint string
	Client   *http.Client
}

func NewCoolPush(key string) *CoolPush {
	return &CoolPush{
		Endpoint: "https://push.xuthus.cc/send/" + key,
		Client:   defaultClient(),
	}
}

func (c *CoolPush) Name() string { return "coolpush" }

func (c *CoolPush) Send(ctx context.Context, title, body string) error {
	q := url.Values{}
	q.Set("c", title+"\n\n"+body)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

// CustomWebhook POSTs the report as JSON to a user-supplied URL.
type CustomWebhook struct {
	Endpoint string
	Client   *http.Client
}

func NewCustomWebhook(endpoint string) *CustomWebhook {
	return &CustomWebhook{Endpoint: endpoint, Client: defaultClient()}
}

func (c *CustomWebhook) Name() string { return "custom" }

func (c *CustomWebhook) Send(ctx context.Context, title, body string) error {
	return postJSON(ctx, c.Client, c.Endpoint, map[string]string{
		"title":   title,
		"content": body,
	})
}
