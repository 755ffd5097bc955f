package chain

import (
	"sort"

	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// Result is the outcome of a verification pass.
type Result struct {
	Valid      bool
	BrokenAtID string
	Checked    int
	Skipped    int
}

// VerifyRange walks journals in creation order and recomputes every stored hash.
// Journals without a stored hash predate the chain and are skipped. The walk stops at
// the first mismatch; nothing is repaired.
func VerifyRange(journals []journal.Journal) Result {
	ordered := make([]journal.Journal, len(journals))
	copy(ordered, journals)
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].Sequence != ordered[b].Sequence {
			return ordered[a].Sequence < ordered[b].Sequence
		}
		return ordered[a].CreatedAt.Before(ordered[b].CreatedAt)
	})

	res := Result{Valid: true}
	prev := ""
	linked := false
	for _, j := range ordered {
		if j.Hash == "" {
			res.Skipped++
			continue
		}
		// The first hashed journal in the window anchors on its own prev_hash.
		if linked && j.PrevHash != prev {
			return Result{Valid: false, BrokenAtID: j.ID, Checked: res.Checked, Skipped: res.Skipped}
		}
		if ComputeHash(j, j.PrevHash) != j.Hash {
			return Result{Valid: false, BrokenAtID: j.ID, Checked: res.Checked, Skipped: res.Skipped}
		}
		res.Checked++
		prev = j.Hash
		linked = true
	}
	return res
}
