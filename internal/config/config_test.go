package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Task.BaseURL != "https://m.jlc.com" {
		t.Errorf("expected BaseURL=https://m.jlc.com, got %s", cfg.Task.BaseURL)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("expected MaxAttempts=4, got %d", cfg.Retry.MaxAttempts)
	}
	if !cfg.Browser.Headless {
		t.Error("expected headless by default")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("PUSHPLUS_TOKEN", "")
	t.Setenv("DINGTALK_WEBHOOK", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 2
	cfg.Notify.PushPlusToken = "pp-token"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Retry.MaxAttempts != 2 {
		t.Errorf("expected MaxAttempts=2, got %d", loaded.Retry.MaxAttempts)
	}
	if loaded.Notify.PushPlusToken != "pp-token" {
		t.Errorf("expected PushPlusToken=pp-token, got %s", loaded.Notify.PushPlusToken)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")
	t.Setenv("WECHAT_WEBHOOK_KEY", "wk")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Notify.TelegramBotToken != "tg-token" {
		t.Errorf("expected Telegram token override, got %q", cfg.Notify.TelegramBotToken)
	}
	if cfg.Notify.TelegramChatID != "12345" {
		t.Errorf("expected Telegram chat id override, got %q", cfg.Notify.TelegramChatID)
	}
	if cfg.Notify.WeComKey != "wk" {
		t.Errorf("expected WeCom key override, got %q", cfg.Notify.WeComKey)
	}
}

func TestTaskTimeout_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Task.Timeout = "bogus"
	if got := cfg.TaskTimeout(); got.Seconds() != 10 {
		t.Errorf("expected 10s fallback, got %v", got)
	}
}

func TestParseAccounts(t *testing.T) {
	accounts, err := ParseAccounts(" u1, u2 ,u3", "p1,p2,p3")
	if err != nil {
		t.Fatalf("ParseAccounts failed: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	if accounts[0].Index != 1 || accounts[0].Username != "u1" || accounts[0].Password != "p1" {
		t.Errorf("unexpected first account: %+v", accounts[0])
	}
	if accounts[2].Index != 3 {
		t.Errorf("expected 1-based index 3, got %d", accounts[2].Index)
	}
}

func TestParseAccounts_Mismatch(t *testing.T) {
	if _, err := ParseAccounts("u1,u2", "p1"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := ParseAccounts("", ""); err == nil {
		t.Fatal("expected empty-list error")
	}
}
