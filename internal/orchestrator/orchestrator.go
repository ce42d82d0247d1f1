// Package orchestrator sequences attempts across accounts: a first pass
// with per-account retries, then one final pass over whatever still
// qualifies for another try.
package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
)

// AttemptFunc performs one attempt for one account.
type AttemptFunc func(ctx context.Context, acct result.Account, attemptNumber int, finalPass bool) result.AttemptResult

// Config controls retry counts and pacing.
type Config struct {
	// MaxAttempts is the per-account attempt limit in the first pass.
	MaxAttempts int
	// FinalPass enables one extra attempt for accounts that neither
	// succeeded nor hit a permanent credential error.
	FinalPass bool
}

// DefaultConfig matches the production schedule.
func DefaultConfig() Config {
	return Config{MaxAttempts: 4, FinalPass: true}
}

// Orchestrator runs the full schedule and folds attempts into one merged
// record per account. Accounts are processed strictly in order.
type Orchestrator struct {
	cfg     Config
	attempt AttemptFunc
	logger  *zap.Logger
	sleep   func(time.Duration)
	rand    *rand.Rand
}

// New wires an orchestrator around an attempt function.
func New(cfg Config, attempt AttemptFunc, logger *zap.Logger) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		attempt: attempt,
		logger:  logger.Named("orchestrator"),
		sleep:   time.Sleep,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the first pass and, when enabled, the final pass, and
// returns one merged result per account in input order.
func (o *Orchestrator) Run(ctx context.Context, accounts []result.Account) []result.MergedAccountResult {
	merged := make([]result.MergedAccountResult, len(accounts))
	for i, acct := range accounts {
		merged[i] = result.NewMerged(acct.Index)

		for n := 0; n < o.cfg.MaxAttempts; n++ {
			if ctx.Err() != nil {
				return merged
			}
			res := o.attempt(ctx, acct, n, false)
			merged[i].Fold(res)
			if merged[i].TaskSucceeded || merged[i].PermanentCredentialError {
				break
			}
			if n < o.cfg.MaxAttempts-1 {
				o.logger.Info("retrying account",
					zap.Int("account", acct.Index),
					zap.Int("next_attempt", n+1))
				o.pause(2, 6)
			}
		}

		if i < len(accounts)-1 {
			o.pause(3, 5)
		}
	}

	if o.cfg.FinalPass {
		o.runFinalPass(ctx, accounts, merged)
	}
	return merged
}

// runFinalPass gives every still-retryable account exactly one more try.
func (o *Orchestrator) runFinalPass(ctx context.Context, accounts []result.Account, merged []result.MergedAccountResult) {
	var pending []int
	for i := range merged {
		if merged[i].NeedsRetry() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}
	o.logger.Info("starting final pass", zap.Int("accounts", len(pending)))
	o.pause(2, 3)

	for k, i := range pending {
		if ctx.Err() != nil {
			return
		}
		res := o.attempt(ctx, accounts[i], merged[i].AttemptsMade, true)
		merged[i].Fold(res)
		if k < len(pending)-1 {
			o.pause(3, 5)
		}
	}
}

func (o *Orchestrator) pause(minSec, maxSec int) {
	d := time.Duration(minSec)*time.Second +
		time.Duration(o.rand.Int63n(int64(maxSec-minSec)*int64(time.Second)+1))
	o.sleep(d)
}
