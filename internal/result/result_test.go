package result

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successAttempt(idx, n int) AttemptResult {
	a := NewAttemptResult(idx, n, false)
	a.TaskSucceeded = true
	a.SignStatus = StatusSignedSuccess
	a.Nickname = "测试用户"
	a.TokenExtracted = true
	a.SecretExtracted = true
	a.InitialBalance = 100
	a.FinalBalance = 105
	a.RewardDelta = 5
	return a
}

func TestFold_FirstSuccessWins(t *testing.T) {
	m := NewMerged(1)

	fail := NewAttemptResult(1, 0, false)
	fail.SignStatus = StatusRedirectTimeout
	m.Fold(fail)

	m.Fold(successAttempt(1, 1))

	// A later "success" with different numbers must not overwrite.
	second := successAttempt(1, 2)
	second.SignStatus = StatusAlreadySigned
	second.InitialBalance = 105
	second.FinalBalance = 105
	second.RewardDelta = 0
	m.Fold(second)

	require.True(t, m.TaskSucceeded)
	assert.Equal(t, StatusSignedSuccess, m.SignStatus)
	assert.Equal(t, 100, m.InitialBalance)
	assert.Equal(t, 105, m.FinalBalance)
	assert.Equal(t, 5, m.RewardDelta)
	assert.Equal(t, 3, m.AttemptsMade)
}

func TestFold_FillUnknownForward(t *testing.T) {
	m := NewMerged(2)

	// A failed attempt that still learned the nickname and token.
	partial := NewAttemptResult(2, 0, false)
	partial.SignStatus = StatusCheckFailed
	partial.Nickname = "用户甲"
	partial.TokenExtracted = true
	m.Fold(partial)

	assert.Equal(t, "用户甲", m.Nickname)
	assert.True(t, m.TokenExtracted)
	assert.False(t, m.SecretExtracted)
	assert.False(t, m.TaskSucceeded)
	// The merged status stays unknown until an attempt succeeds.
	assert.Equal(t, StatusUnknown, m.SignStatus)

	// A later attempt with a different nickname does not replace the
	// first known one.
	other := NewAttemptResult(2, 1, false)
	other.Nickname = "用户乙"
	other.SecretExtracted = true
	m.Fold(other)

	assert.Equal(t, "用户甲", m.Nickname)
	assert.True(t, m.SecretExtracted)
}

func TestFold_PermanentErrorResetsAndFreezes(t *testing.T) {
	m := NewMerged(3)

	partial := NewAttemptResult(3, 0, false)
	partial.Nickname = "用户甲"
	partial.TokenExtracted = true
	m.Fold(partial)

	bad := NewAttemptResult(3, 1, false)
	bad.PermanentCredentialError = true
	m.Fold(bad)

	require.True(t, m.PermanentCredentialError)
	assert.Equal(t, NicknameUnknown, m.Nickname)
	assert.False(t, m.TokenExtracted)
	assert.Equal(t, StatusUnknown, m.SignStatus)
	assert.Equal(t, 2, m.AttemptsMade)
	assert.False(t, m.NeedsRetry())

	// Frozen: nothing after the permanent error changes the record.
	frozen := m
	m.Fold(successAttempt(3, 2))
	if diff := cmp.Diff(frozen, m); diff != "" {
		t.Errorf("merged result changed after freeze (-want +got):\n%s", diff)
	}
}

func TestNeedsRetry(t *testing.T) {
	m := NewMerged(1)
	m.Fold(NewAttemptResult(1, 0, false))
	assert.True(t, m.NeedsRetry())

	m.Fold(successAttempt(1, 1))
	assert.False(t, m.NeedsRetry())
}

func TestSummarize(t *testing.T) {
	ok := NewMerged(1)
	ok.Fold(successAttempt(1, 0))

	failed := NewMerged(2)
	failed.Fold(NewAttemptResult(2, 0, false))

	pwErr := NewMerged(3)
	bad := NewAttemptResult(3, 0, false)
	bad.PermanentCredentialError = true
	pwErr.Fold(bad)

	stats := Summarize([]MergedAccountResult{ok, failed, pwErr})
	assert.Equal(t, SummaryStats{
		Total:          3,
		Succeeded:      1,
		Failed:         1,
		PasswordErrors: 1,
		TotalRewards:   5,
	}, stats)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, SummaryStats{}, Summarize(nil))
}

func TestSummarize_NegativeDeltaNotCounted(t *testing.T) {
	m := NewMerged(1)
	a := successAttempt(1, 0)
	a.InitialBalance = 100
	a.FinalBalance = 90
	a.RewardDelta = -10
	m.Fold(a)

	stats := Summarize([]MergedAccountResult{m})
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 0, stats.TotalRewards)
}
