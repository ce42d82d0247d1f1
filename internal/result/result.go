// Package result defines the per-attempt and per-account outcome records
// and the fold that merges attempts into one final line per account.
package result

// Account is one login credential pair, indexed from 1 in report output.
type Account struct {
	Index    int
	Username string
	Password string
}

// SignStatus classifies how far an attempt got and how it ended.
type SignStatus int

const (
	StatusUnknown SignStatus = iota
	StatusAlreadySigned
	StatusSignedSuccess
	StatusRewardClaimed
	StatusSignFailed
	StatusCheckFailed
	StatusTokenExtractionFailed
	StatusLoginFailed
	StatusRedirectTimeout
	StatusException
)

func (s SignStatus) String() string {
	switch s {
	case StatusAlreadySigned:
		return "already signed in"
	case StatusSignedSuccess:
		return "sign-in succeeded"
	case StatusRewardClaimed:
		return "sign-in succeeded, reward claimed"
	case StatusSignFailed:
		return "sign-in failed"
	case StatusCheckFailed:
		return "status check failed"
	case StatusTokenExtractionFailed:
		return "credential extraction failed"
	case StatusLoginFailed:
		return "login failed"
	case StatusRedirectTimeout:
		return "login redirect timed out"
	case StatusException:
		return "unexpected error"
	default:
		return "unknown"
	}
}

// Succeeded reports whether the status represents a completed task.
func (s SignStatus) Succeeded() bool {
	switch s {
	case StatusAlreadySigned, StatusSignedSuccess, StatusRewardClaimed:
		return true
	default:
		return false
	}
}

// NicknameUnknown is the placeholder used until a profile fetch succeeds.
const NicknameUnknown = "unknown"

// AttemptResult is the complete outcome of one attempt for one account.
type AttemptResult struct {
	AccountIndex  int
	AttemptNumber int
	FinalPass     bool

	TaskSucceeded            bool
	SignStatus               SignStatus
	Nickname                 string
	TokenExtracted           bool
	SecretExtracted          bool
	InitialBalance           int
	FinalBalance             int
	RewardDelta              int
	HadBonusClaim            bool
	PermanentCredentialError bool
}

// NewAttemptResult returns a zeroed attempt record with its identity set.
func NewAttemptResult(accountIndex, attemptNumber int, finalPass bool) AttemptResult {
	return AttemptResult{
		AccountIndex:  accountIndex,
		AttemptNumber: attemptNumber,
		FinalPass:     finalPass,
		SignStatus:    StatusUnknown,
		Nickname:      NicknameUnknown,
	}
}

// MergedAccountResult is the folded view of every attempt made for one
// account. First success wins; partial knowledge fills forward.
type MergedAccountResult struct {
	AttemptResult
	AttemptsMade int
}

// NewMerged returns the empty merged record for an account.
func NewMerged(accountIndex int) MergedAccountResult {
	return MergedAccountResult{
		AttemptResult: NewAttemptResult(accountIndex, 0, false),
	}
}

// Fold merges one attempt into the account record.
//
// A permanent credential error resets every task field and freezes the
// record: later attempts are not expected and would not be merged. The
// first succeeding attempt copies the task outcome; later successes are
// ignored. Nickname and the extraction flags fill forward from unknown
// regardless of success, so a partially-working attempt still improves
// the report.
func (m *MergedAccountResult) Fold(a AttemptResult) {
	if m.PermanentCredentialError {
		return
	}
	m.AttemptsMade++

	if a.PermanentCredentialError {
		m.PermanentCredentialError = true
		m.TaskSucceeded = false
		m.SignStatus = StatusUnknown
		m.Nickname = NicknameUnknown
		m.TokenExtracted = false
		m.SecretExtracted = false
		m.InitialBalance = 0
		m.FinalBalance = 0
		m.RewardDelta = 0
		m.HadBonusClaim = false
		return
	}

	if a.Nickname != "" && a.Nickname != NicknameUnknown && m.Nickname == NicknameUnknown {
		m.Nickname = a.Nickname
	}
	if a.TokenExtracted {
		m.TokenExtracted = true
	}
	if a.SecretExtracted {
		m.SecretExtracted = true
	}
	if a.FinalPass {
		m.FinalPass = true
	}

	if m.TaskSucceeded || !a.TaskSucceeded {
		return
	}
	m.TaskSucceeded = true
	m.SignStatus = a.SignStatus
	m.InitialBalance = a.InitialBalance
	m.FinalBalance = a.FinalBalance
	m.RewardDelta = a.RewardDelta
	m.HadBonusClaim = a.HadBonusClaim
}

// NeedsRetry reports whether the account qualifies for the final pass.
func (m *MergedAccountResult) NeedsRetry() bool {
	return !m.TaskSucceeded && !m.PermanentCredentialError
}

// SummaryStats aggregates a run for the report footer.
type SummaryStats struct {
	Total          int
	Succeeded      int
	Failed         int
	PasswordErrors int
	TotalRewards   int
}

// Summarize computes the run totals. Only positive deltas count toward
// TotalRewards; a negative delta means the balance moved for unrelated
// reasons and says nothing about the reward earned.
func Summarize(results []MergedAccountResult) SummaryStats {
	stats := SummaryStats{Total: len(results)}
	for _, r := range results {
		switch {
		case r.PermanentCredentialError:
			stats.PasswordErrors++
		case r.TaskSucceeded:
			stats.Succeeded++
			if r.RewardDelta > 0 {
				stats.TotalRewards += r.RewardDelta
			}
		default:
			stats.Failed++
		}
	}
	return stats
}
