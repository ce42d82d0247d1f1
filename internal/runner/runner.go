// Package runner drives one full attempt for one account: session check,
// login when required, credential extraction, and task execution. Every
// failure mode is absorbed here into a typed AttemptResult; nothing
// propagates to the orchestrator as a fault.
package runner

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhangMonday/jlc-auto-check-in/internal/browser"
	"github.com/zhangMonday/jlc-auto-check-in/internal/credential"
	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
	"github.com/zhangMonday/jlc-auto-check-in/internal/task"
)

// Login page selectors and the password-error phrases that mark an account
// as permanently failed.
const (
	accountLoginTab = "button"
	accountLoginTxt = "账号登录"
	usernameInput   = `input[placeholder="请输入手机号码 / 客户编号 / 邮箱"]`
	passwordInput   = `input[type="password"]`
	submitButton    = "button.submit"
	sliderHandle    = ".btn_slide"
	sliderTrack     = ".nc_scale"
)

var errorSelectors = []string{".error", ".err-msg", ".toast", ".message"}

var passwordErrorPhrases = []string{
	"账号或密码不正确",
	"用户名或密码错误",
	"密码错误",
	"登录失败",
}

// Driver is the UI-automation capability one attempt consumes. A fresh
// driver is acquired per attempt and always released on exit.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	WaitURL(ctx context.Context, timeout time.Duration, match func(string) bool) bool
	WaitElement(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	ClickText(ctx context.Context, selector, textRegex string, timeout time.Duration) error
	TypeInto(ctx context.Context, selector, text string, timeout time.Duration) error
	DragSlider(ctx context.Context, handleSelector, trackSelector string, timeout time.Duration) error
	ElementTexts(ctx context.Context, selector string) ([]string, error)
	Interact(ctx context.Context) error
	ReadStorage(ctx context.Context, key string) (string, error)
	CapturedRequests() []browser.CapturedRequest
	Close()
}

// CredentialSource extracts session credentials from a live page.
type CredentialSource interface {
	Extract(ctx context.Context, ps credential.PageState) (credential.Credentials, bool, bool)
}

// TaskExecutor is the slice of the task client the runner consumes.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context) bool
	Nickname() string
	InitialBalance() int
	FinalBalance() int
	RewardDelta() int
	SignStatus() result.SignStatus
	HadBonusClaim() bool
}

// Config holds the URLs and timeouts of the login state machine.
type Config struct {
	EntryURL        string
	HomeURL         string
	TargetMark      string // substring identifying the target domain
	LoginMark       string // substring identifying the login page
	LoginDomainMark string // substring identifying the login domain (for redirect check)
	ElementTimeout  time.Duration
	RedirectTimeout time.Duration
}

// DefaultConfig returns the state-machine settings for the target site.
func DefaultConfig() Config {
	return Config{
		EntryURL:        "https://m.jlc.com/mapp/pages/my/index",
		HomeURL:         "https://m.jlc.com/",
		TargetMark:      "m.jlc.com",
		LoginMark:       "passport.jlc.com/login",
		LoginDomainMark: "passport.jlc.com",
		ElementTimeout:  25 * time.Second,
		RedirectTimeout: 15 * time.Second,
	}
}

// Runner executes attempts. One Runner serves the whole run; per-attempt
// state lives in locals and the returned AttemptResult.
type Runner struct {
	cfg       Config
	logger    *zap.Logger
	newDriver func(ctx context.Context) (Driver, error)
	creds     CredentialSource
	newTask   func(creds credential.Credentials, accountIndex int, refresher task.Refresher) TaskExecutor
	sleep     func(time.Duration)
}

// New wires a runner from its collaborators.
func New(cfg Config, newDriver func(ctx context.Context) (Driver, error), creds CredentialSource,
	newTask func(credential.Credentials, int, task.Refresher) TaskExecutor, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		logger:    logger.Named("runner"),
		newDriver: newDriver,
		creds:     creds,
		newTask:   newTask,
		sleep:     time.Sleep,
	}
}

// RunAttempt performs one end-to-end attempt. It never returns an error:
// every exit path, including panics from the driver layer, is folded into
// the result. The driver session is released on every path.
func (r *Runner) RunAttempt(ctx context.Context, acct result.Account, attemptNumber int, finalPass bool) (res result.AttemptResult) {
	res = result.NewAttemptResult(acct.Index, attemptNumber, finalPass)
	log := r.logger.With(
		zap.Int("account", acct.Index),
		zap.Int("attempt", attemptNumber),
		zap.Bool("final_pass", finalPass),
	)

	defer func() {
		if rec := recover(); rec != nil {
			// A password error already recorded on this attempt stays
			// permanent; anything else is a transient exception.
			if !res.PermanentCredentialError {
				res.SignStatus = result.StatusException
				res.TaskSucceeded = false
			}
			log.Error("attempt aborted by panic", zap.Any("panic", rec))
		}
	}()

	drv, err := r.newDriver(ctx)
	if err != nil {
		log.Error("failed to open browser session", zap.Error(err))
		res.SignStatus = result.StatusException
		return res
	}
	defer drv.Close()

	if err := drv.Navigate(ctx, r.cfg.EntryURL); err != nil {
		log.Warn("entry navigation failed", zap.Error(err))
		res.SignStatus = result.StatusException
		return res
	}

	// URL_CHECK: the page either stays on the target domain or bounces to
	// the login domain.
	drv.WaitURL(ctx, 10*time.Second, func(u string) bool {
		return strings.Contains(u, r.cfg.LoginMark) || strings.Contains(u, r.cfg.TargetMark)
	})
	url, err := drv.CurrentURL(ctx)
	if err != nil {
		res.SignStatus = result.StatusException
		return res
	}

	if strings.Contains(url, r.cfg.LoginMark) {
		log.Info("login required")
		if !r.login(ctx, drv, acct, &res, log) {
			return res
		}
	} else {
		log.Info("session already active")
	}

	// EXTRACT_CREDENTIALS after stirring up background traffic.
	if err := drv.Interact(ctx); err != nil {
		log.Debug("page interaction incomplete", zap.Error(err))
	}
	creds, tokenOK, secretOK := r.creds.Extract(ctx, drv)
	res.TokenExtracted = tokenOK
	res.SecretExtracted = secretOK
	if !tokenOK || !secretOK {
		log.Warn("credential extraction incomplete",
			zap.Bool("token", tokenOK), zap.Bool("secret", secretOK))
		res.SignStatus = result.StatusTokenExtractionFailed
		return res
	}
	log.Info("credentials extracted")

	// RUN_TASK.
	tc := r.newTask(creds, acct.Index, &sessionRefresher{runner: r, driver: drv})
	res.TaskSucceeded = tc.ExecuteTask(ctx)
	res.SignStatus = tc.SignStatus()
	res.InitialBalance = tc.InitialBalance()
	res.FinalBalance = tc.FinalBalance()
	res.RewardDelta = tc.RewardDelta()
	res.HadBonusClaim = tc.HadBonusClaim()
	if nick := tc.Nickname(); nick != "" {
		res.Nickname = nick
	}

	if res.TaskSucceeded {
		log.Info("task completed", zap.String("status", res.SignStatus.String()), zap.Int("delta", res.RewardDelta))
	} else {
		log.Warn("task failed", zap.String("status", res.SignStatus.String()))
	}
	return res
}

// login walks LOGIN_REQUIRED through AWAIT_REDIRECT. It returns false when
// the attempt must stop, with the cause already recorded in res.
func (r *Runner) login(ctx context.Context, drv Driver, acct result.Account, res *result.AttemptResult, log *zap.Logger) bool {
	// Credential-login mode may already be selected; a missing tab is fine.
	if err := drv.ClickText(ctx, accountLoginTab, accountLoginTxt, r.cfg.ElementTimeout); err != nil {
		log.Debug("account-login tab not clicked, possibly preselected", zap.Error(err))
	}

	// FILL_CREDENTIALS.
	if err := drv.TypeInto(ctx, usernameInput, acct.Username, r.cfg.ElementTimeout); err != nil {
		log.Warn("username input not found", zap.Error(err))
		res.SignStatus = result.StatusLoginFailed
		return false
	}
	if err := drv.TypeInto(ctx, passwordInput, acct.Password, r.cfg.ElementTimeout); err != nil {
		log.Warn("password input not found", zap.Error(err))
		res.SignStatus = result.StatusLoginFailed
		return false
	}

	// SUBMIT_LOGIN.
	if err := drv.Click(ctx, submitButton, r.cfg.ElementTimeout); err != nil {
		log.Warn("submit button not found", zap.Error(err))
		res.SignStatus = result.StatusLoginFailed
		return false
	}

	// CHECK_PASSWORD_ERROR: give the error toast a moment to render.
	r.sleep(time.Second)
	if r.passwordErrorShown(ctx, drv) {
		log.Warn("password error detected, skipping account")
		res.PermanentCredentialError = true
		return false
	}

	// CHALLENGE: the slider is optional; its absence is not an error. A
	// failed drag can also surface as a password-error-looking message, so
	// re-check afterwards either way.
	if err := drv.DragSlider(ctx, sliderHandle, sliderTrack, 10*time.Second); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			log.Debug("no slider challenge present")
		} else {
			log.Warn("slider challenge incomplete", zap.Error(err))
		}
	} else {
		log.Info("slider challenge completed")
	}
	r.sleep(time.Second)
	if r.passwordErrorShown(ctx, drv) {
		log.Warn("password error detected after challenge, skipping account")
		res.PermanentCredentialError = true
		return false
	}

	// AWAIT_REDIRECT: back on the target domain means we are in.
	ok := drv.WaitURL(ctx, r.cfg.RedirectTimeout, func(u string) bool {
		return strings.Contains(u, r.cfg.TargetMark) && !strings.Contains(u, r.cfg.LoginDomainMark)
	})
	if !ok {
		log.Warn("redirect back to target domain timed out")
		res.SignStatus = result.StatusRedirectTimeout
		return false
	}
	log.Info("login redirect completed")
	return true
}

// passwordErrorShown scans the known error containers for the credential
// error phrases.
func (r *Runner) passwordErrorShown(ctx context.Context, drv Driver) bool {
	for _, sel := range errorSelectors {
		texts, err := drv.ElementTexts(ctx, sel)
		if err != nil {
			continue
		}
		for _, text := range texts {
			for _, phrase := range passwordErrorPhrases {
				if strings.Contains(text, phrase) {
					return true
				}
			}
		}
	}
	return false
}

// sessionRefresher re-derives credentials for the task client by reloading
// the home page and repeating the interaction and extraction steps.
type sessionRefresher struct {
	runner *Runner
	driver Driver
}

func (s *sessionRefresher) Refresh(ctx context.Context) (credential.Credentials, error) {
	if err := s.driver.Navigate(ctx, s.runner.cfg.HomeURL); err != nil {
		return credential.Credentials{}, err
	}
	if err := s.driver.Reload(ctx); err != nil {
		return credential.Credentials{}, err
	}
	if err := s.driver.Interact(ctx); err != nil {
		s.runner.logger.Debug("refresh interaction incomplete", zap.Error(err))
	}
	creds, _, _ := s.runner.creds.Extract(ctx, s.driver)
	return creds, ctx.Err()
}
