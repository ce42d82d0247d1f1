// Package task wraps the four check-in API calls and composes them into the
// daily task flow. A Client is stateful for exactly one attempt: it tracks
// the balances, the sign status, and whether a bonus voucher was claimed.
// It never fails across its own boundary; causes are recorded in the status.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zhangMonday/jlc-auto-check-in/internal/credential"
	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
)

const (
	profilePath    = "/api/appPlatform/center/setting/selectPersonalInfo"
	balancePath    = "/api/activity/front/getCustomerIntegral"
	signStatusPath = "/api/activity/sign/getCurrentUserSignInConfig"
	signInPath     = "/api/activity/sign/signIn?source=4"
	claimPath      = "/api/activity/sign/receiveVoucher"

	balanceRetries = 5
)

// envelope is the JSON wrapper every endpoint responds with.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) message() string {
	if e == nil {
		return "request failed"
	}
	if e.Message == "" {
		return "unknown error"
	}
	return e.Message
}

// Refresher re-establishes the page session and re-derives credentials when
// the balance endpoint stops accepting the current ones.
type Refresher interface {
	Refresh(ctx context.Context) (credential.Credentials, error)
}

// Options configure the REST client.
type Options struct {
	BaseURL   string
	UserAgent string
	Referer   string
	Timeout   time.Duration
}

// Client issues the task API calls for one account attempt.
type Client struct {
	opts      Options
	http      *http.Client
	headers   map[string]string
	refresher Refresher
	logger    *zap.Logger
	account   int

	sleep func(time.Duration)

	nickname       string
	initialBalance int
	finalBalance   int
	rewardDelta    int
	signStatus     result.SignStatus
	hadBonusClaim  bool
}

// NewClient builds a client keyed by the extracted session credentials.
func NewClient(opts Options, creds credential.Credentials, accountIndex int, refresher Refresher, logger *zap.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	c := &Client{
		opts:      opts,
		http:      &http.Client{Timeout: opts.Timeout},
		refresher: refresher,
		logger:    logger.Named("task").With(zap.Int("account", accountIndex)),
		account:   accountIndex,
		sleep:     time.Sleep,
		nickname:  result.NicknameUnknown,
	}
	c.headers = map[string]string{
		"user-agent":        opts.UserAgent,
		"x-jlc-clienttype":  "WEB",
		"accept":            "application/json, text/plain, */*",
		"x-jlc-accesstoken": creds.AccessToken,
		"secretkey":         creds.SecretKey,
		"Referer":           opts.Referer,
	}
	return c
}

// UpdateCredentials substitutes refreshed session credentials into the
// request headers. Empty values leave the existing ones in place.
func (c *Client) UpdateCredentials(creds credential.Credentials) {
	if creds.AccessToken != "" {
		c.headers["x-jlc-accesstoken"] = creds.AccessToken
	}
	if creds.SecretKey != "" {
		c.headers["secretkey"] = creds.SecretKey
	}
}

func (c *Client) send(ctx context.Context, path string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &env, nil
}

// FetchProfile verifies the session and picks up the account nickname.
func (c *Client) FetchProfile(ctx context.Context) bool {
	env, err := c.send(ctx, profilePath)
	if err != nil || !env.Success {
		c.logger.Warn("profile fetch failed", zap.String("message", env.message()), zap.Error(err))
		return false
	}

	var data struct {
		NickName string `json:"nickName"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err == nil && data.NickName != "" {
			c.nickname = data.NickName
		}
	}
	c.logger.Info("profile fetched")
	return true
}

// ReadBalance returns the reward-currency balance. On failure it refreshes
// the page session and credentials and retries, returning 0 after the last
// try rather than aborting the task.
func (c *Client) ReadBalance(ctx context.Context) int {
	for attempt := 0; attempt < balanceRetries; attempt++ {
		env, err := c.send(ctx, balancePath)
		if err == nil && env.Success {
			var data struct {
				IntegralVoucher int `json:"integralVoucher"`
			}
			if err := json.Unmarshal(env.Data, &data); err == nil {
				return data.IntegralVoucher
			}
		}

		if attempt < balanceRetries-1 && c.refresher != nil {
			if creds, err := c.refresher.Refresh(ctx); err == nil {
				c.UpdateCredentials(creds)
			}
			c.sleep(time.Second + time.Duration(rand.Int63n(int64(time.Second))))
		}
	}
	c.logger.Warn("balance read failed after retries, using 0")
	return 0
}

// CheckAlreadySigned reports whether today's sign-in is already done. An
// error means the check itself failed and the task must abort.
func (c *Client) CheckAlreadySigned(ctx context.Context) (bool, error) {
	env, err := c.send(ctx, signStatusPath)
	if err != nil || !env.Success {
		c.signStatus = result.StatusCheckFailed
		c.logger.Warn("sign status check failed", zap.String("message", env.message()), zap.Error(err))
		return false, fmt.Errorf("sign status check: %s", env.message())
	}

	var data struct {
		HaveSignIn bool `json:"haveSignIn"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.signStatus = result.StatusCheckFailed
		return false, fmt.Errorf("sign status decode: %w", err)
	}

	if data.HaveSignIn {
		c.signStatus = result.StatusAlreadySigned
	}
	return data.HaveSignIn, nil
}

// PerformSignIn executes the sign-in call. A nonzero gain means immediate
// success; otherwise a bonus voucher is pending and claiming it counts as
// sign-in success.
func (c *Client) PerformSignIn(ctx context.Context) bool {
	env, err := c.send(ctx, signInPath)
	if err != nil || !env.Success {
		c.signStatus = result.StatusSignFailed
		c.logger.Warn("sign-in failed", zap.String("message", env.message()), zap.Error(err))
		return false
	}

	var data struct {
		GainNum int `json:"gainNum"`
	}
	_ = json.Unmarshal(env.Data, &data)

	if data.GainNum != 0 {
		c.signStatus = result.StatusSignedSuccess
		c.logger.Info("signed in", zap.Int("gain", data.GainNum))
		return true
	}

	// No direct gain reported: a voucher is claimable first.
	c.hadBonusClaim = true
	if c.ClaimVoucher(ctx) {
		c.signStatus = result.StatusRewardClaimed
		return true
	}
	c.signStatus = result.StatusSignFailed
	return false
}

// ClaimVoucher claims the pending bonus voucher.
func (c *Client) ClaimVoucher(ctx context.Context) bool {
	env, err := c.send(ctx, claimPath)
	if err != nil || !env.Success {
		c.logger.Warn("voucher claim failed", zap.String("message", env.message()), zap.Error(err))
		return false
	}
	c.logger.Info("voucher claimed")
	return true
}

// ExecuteTask runs the full ordered flow: profile, pre-balance, sign-status
// check, sign-in or skip, post-balance, delta. The reward delta is diagnostic
// only; success is determined by the call outcomes.
func (c *Client) ExecuteTask(ctx context.Context) bool {
	if !c.FetchProfile(ctx) {
		return false
	}
	c.pause(1, 2)

	c.initialBalance = c.ReadBalance(ctx)
	c.logger.Info("balance before", zap.Int("balance", c.initialBalance))
	c.pause(1, 2)

	signed, err := c.CheckAlreadySigned(ctx)
	if err != nil {
		return false
	}
	if signed {
		c.logger.Info("already signed today, skipping sign-in")
	} else {
		c.pause(2, 3)
		if !c.PerformSignIn(ctx) {
			return false
		}
	}
	c.pause(1, 2)

	c.finalBalance = c.ReadBalance(ctx)
	c.logger.Info("balance after", zap.Int("balance", c.finalBalance))

	c.rewardDelta = c.finalBalance - c.initialBalance
	switch {
	case c.rewardDelta > 0:
		c.logger.Info("balance increased",
			zap.Int("delta", c.rewardDelta), zap.Bool("bonus", c.hadBonusClaim))
	case c.rewardDelta == 0:
		c.logger.Info("balance unchanged, likely signed elsewhere today")
	default:
		c.logger.Warn("balance decreased", zap.Int("delta", c.rewardDelta))
	}
	return true
}

func (c *Client) pause(minSec, maxSec int) {
	c.sleep(time.Duration(minSec)*time.Second + time.Duration(rand.Int63n(int64(maxSec-minSec+1)))*time.Second)
}

// Nickname returns the profile nickname, or the unknown placeholder.
func (c *Client) Nickname() string { return c.nickname }

// InitialBalance returns the balance read before the sign-in step.
func (c *Client) InitialBalance() int { return c.initialBalance }

// FinalBalance returns the balance read after the sign-in step.
func (c *Client) FinalBalance() int { return c.finalBalance }

// RewardDelta returns finalBalance minus initialBalance.
func (c *Client) RewardDelta() int { return c.rewardDelta }

// SignStatus returns the recorded cause of the task outcome.
func (c *Client) SignStatus() result.SignStatus { return c.signStatus }

// HadBonusClaim reports whether a voucher claim was part of this attempt.
func (c *Client) HadBonusClaim() bool { return c.hadBonusClaim }
