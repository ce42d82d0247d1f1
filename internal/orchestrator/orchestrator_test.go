package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
)

type call struct {
	account   int
	attempt   int
	finalPass bool
}

// scriptedAttempts returns the scripted result per (account, call count)
// and records every call.
type scriptedAttempts struct {
	calls  []call
	script func(acct result.Account, attemptNumber int, finalPass bool) result.AttemptResult
}

func (s *scriptedAttempts) run(ctx context.Context, acct result.Account, attemptNumber int, finalPass bool) result.AttemptResult {
	s.calls = append(s.calls, call{acct.Index, attemptNumber, finalPass})
	return s.script(acct, attemptNumber, finalPass)
}

func newTestOrchestrator(t *testing.T, cfg Config, s *scriptedAttempts) *Orchestrator {
	t.Helper()
	o := New(cfg, s.run, zaptest.NewLogger(t))
	o.sleep = func(time.Duration) {}
	return o
}

func accounts(n int) []result.Account {
	out := make([]result.Account, n)
	for i := range out {
		out[i] = result.Account{Index: i + 1, Username: "u", Password: "p"}
	}
	return out
}

func success(acct result.Account, attemptNumber int, finalPass bool) result.AttemptResult {
	r := result.NewAttemptResult(acct.Index, attemptNumber, finalPass)
	r.TaskSucceeded = true
	r.SignStatus = result.StatusSignedSuccess
	r.TokenExtracted = true
	r.SecretExtracted = true
	return r
}

func failure(acct result.Account, attemptNumber int, finalPass bool) result.AttemptResult {
	r := result.NewAttemptResult(acct.Index, attemptNumber, finalPass)
	r.SignStatus = result.StatusException
	return r
}

func TestRun_SuccessFirstTryNoRetries(t *testing.T) {
	s := &scriptedAttempts{script: success}
	merged := newTestOrchestrator(t, DefaultConfig(), s).Run(context.Background(), accounts(2))

	require.Len(t, merged, 2)
	assert.Equal(t, []call{{1, 0, false}, {2, 0, false}}, s.calls)
	for _, m := range merged {
		assert.True(t, m.TaskSucceeded)
		assert.Equal(t, 1, m.AttemptsMade)
	}
}

func TestRun_RetriesUntilSuccess(t *testing.T) {
	s := &scriptedAttempts{}
	s.script = func(acct result.Account, n int, fp bool) result.AttemptResult {
		if n < 2 {
			return failure(acct, n, fp)
		}
		return success(acct, n, fp)
	}
	merged := newTestOrchestrator(t, DefaultConfig(), s).Run(context.Background(), accounts(1))

	assert.Equal(t, []call{{1, 0, false}, {1, 1, false}, {1, 2, false}}, s.calls)
	assert.True(t, merged[0].TaskSucceeded)
	assert.Equal(t, 3, merged[0].AttemptsMade)
}

func TestRun_PasswordErrorStopsRetries(t *testing.T) {
	s := &scriptedAttempts{}
	s.script = func(acct result.Account, n int, fp bool) result.AttemptResult {
		r := result.NewAttemptResult(acct.Index, n, fp)
		r.PermanentCredentialError = true
		return r
	}
	merged := newTestOrchestrator(t, DefaultConfig(), s).Run(context.Background(), accounts(1))

	// One attempt in pass one, none in the final pass.
	assert.Equal(t, []call{{1, 0, false}}, s.calls)
	assert.True(t, merged[0].PermanentCredentialError)
}

func TestRun_FinalPassRetriesOnlyPending(t *testing.T) {
	// Account 1 succeeds immediately; account 2 fails every first-pass
	// attempt and succeeds in the final pass.
	s := &scriptedAttempts{}
	s.script = func(acct result.Account, n int, fp bool) result.AttemptResult {
		if acct.Index == 1 {
			return success(acct, n, fp)
		}
		if fp {
			return success(acct, n, fp)
		}
		return failure(acct, n, fp)
	}
	merged := newTestOrchestrator(t, DefaultConfig(), s).Run(context.Background(), accounts(2))

	want := []call{
		{1, 0, false},
		{2, 0, false}, {2, 1, false}, {2, 2, false}, {2, 3, false},
		// Final pass attempt numbering continues from the attempts made.
		{2, 4, true},
	}
	assert.Equal(t, want, s.calls)
	assert.True(t, merged[0].TaskSucceeded)
	assert.True(t, merged[1].TaskSucceeded)
	assert.Equal(t, 1, merged[0].AttemptsMade)
	assert.Equal(t, 5, merged[1].AttemptsMade)
}

func TestRun_FinalPassDisabled(t *testing.T) {
	s := &scriptedAttempts{script: failure}
	cfg := Config{MaxAttempts: 2, FinalPass: false}
	merged := newTestOrchestrator(t, cfg, s).Run(context.Background(), accounts(1))

	assert.Equal(t, []call{{1, 0, false}, {1, 1, false}}, s.calls)
	assert.False(t, merged[0].TaskSucceeded)
	assert.Equal(t, 2, merged[0].AttemptsMade)
}

func TestRun_ContextCancelStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scriptedAttempts{}
	s.script = func(acct result.Account, n int, fp bool) result.AttemptResult {
		cancel()
		return failure(acct, n, fp)
	}
	merged := newTestOrchestrator(t, DefaultConfig(), s).Run(ctx, accounts(3))

	assert.Equal(t, []call{{1, 0, false}}, s.calls)
	require.Len(t, merged, 3)
	assert.Equal(t, 0, merged[1].AttemptsMade)
}

func TestNew_ClampsMaxAttempts(t *testing.T) {
	s := &scriptedAttempts{script: failure}
	o := New(Config{MaxAttempts: 0}, s.run, zaptest.NewLogger(t))
	o.sleep = func(time.Duration) {}
	o.Run(context.Background(), accounts(1))
	assert.Equal(t, []call{{1, 0, false}}, s.calls)
}
