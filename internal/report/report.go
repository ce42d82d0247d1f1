// Package report renders the end-of-run summary: one line per account
// plus aggregate stats, with nicknames masked for sharing.
package report

import (
	"fmt"
	"strings"

	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
)

// MaskNickname hides the middle of a nickname, keeping the first and last
// rune. Short names still get a mask so no full name ever appears.
func MaskNickname(name string) string {
	if name == "" || name == result.NicknameUnknown {
		return result.NicknameUnknown
	}
	runes := []rune(name)
	switch len(runes) {
	case 1:
		return string(runes[0]) + "*"
	case 2:
		return string(runes[0]) + "*"
	default:
		return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
	}
}

// Render produces the full text report for a finished run.
func Render(results []result.MergedAccountResult) string {
	stats := result.Summarize(results)

	var b strings.Builder
	b.WriteString("Daily check-in report\n")
	b.WriteString(strings.Repeat("=", 40))
	b.WriteByte('\n')

	for _, r := range results {
		writeAccountLine(&b, r)
	}

	b.WriteString(strings.Repeat("-", 40))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Accounts: %d  Succeeded: %d  Failed: %d\n",
		stats.Total, stats.Succeeded, stats.Failed+stats.PasswordErrors)
	if stats.TotalRewards > 0 {
		fmt.Fprintf(&b, "Rewards earned: %d\n", stats.TotalRewards)
	}
	if stats.Total > 0 {
		rate := float64(stats.Succeeded) / float64(stats.Total) * 100
		fmt.Fprintf(&b, "Success rate: %.1f%%\n", rate)
	}
	if idx := indexesWhere(results, func(r result.MergedAccountResult) bool {
		return !r.TaskSucceeded && !r.PermanentCredentialError
	}); len(idx) > 0 {
		fmt.Fprintf(&b, "Failed accounts: %s\n", joinInts(idx))
	}
	if idx := indexesWhere(results, func(r result.MergedAccountResult) bool {
		return r.PermanentCredentialError
	}); len(idx) > 0 {
		fmt.Fprintf(&b, "Password errors: %s\n", joinInts(idx))
	}
	return b.String()
}

func writeAccountLine(b *strings.Builder, r result.MergedAccountResult) {
	fmt.Fprintf(b, "Account %d (%s): ", r.AccountIndex, MaskNickname(r.Nickname))

	switch {
	case r.PermanentCredentialError:
		b.WriteString("wrong password, skipped")
	case r.TaskSucceeded:
		b.WriteString(r.SignStatus.String())
		fmt.Fprintf(b, ", balance %d -> %d", r.InitialBalance, r.FinalBalance)
		if r.RewardDelta != 0 {
			fmt.Fprintf(b, " (%+d)", r.RewardDelta)
		}
		if r.HadBonusClaim {
			b.WriteString(" [bonus]")
		}
	default:
		b.WriteString(r.SignStatus.String())
	}

	if r.AttemptsMade > 1 {
		if r.FinalPass {
			b.WriteString(" [final pass]")
		} else {
			fmt.Fprintf(b, " [retried %d]", r.AttemptsMade-1)
		}
	}
	b.WriteByte('\n')
}

func indexesWhere(results []result.MergedAccountResult, pred func(result.MergedAccountResult) bool) []int {
	var out []int
	for _, r := range results {
		if pred(r) {
			out = append(out, r.AccountIndex)
		}
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
