package chain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/mobile_ledger/internal/events"
	"github.com/congo-pay/mobile_ledger/internal/journal"
	"github.com/congo-pay/mobile_ledger/internal/logging"
)

var (
	alice = journal.Owner{Type: journal.Customer, ID: "alice"}
	bob   = journal.Owner{Type: journal.Customer, ID: "bob"}
)

func buildChain(t *testing.T, n int) []journal.Journal {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prev := GenesisHash
	out := make([]journal.Journal, 0, n)
	for i := 0; i < n; i++ {
		lines, err := journal.BuildP2PTransfer(journal.Params{
			Source: alice, Destination: bob, Currency: "XAF", Amount: int64(100 * (i + 1)),
		})
		require.NoError(t, err)
		j := journal.Journal{
			ID:             fmt.Sprintf("j-%d", i),
			Sequence:       int64(i + 1),
			Type:           journal.P2PTransfer,
			ActorID:        alice.ID,
			Currency:       "XAF",
			CorrelationID:  fmt.Sprintf("corr-%d", i),
			IdempotencyKey: fmt.Sprintf("key-%d", i),
			State:          journal.Posted,
			Description:    "p2p transfer",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			Lines:          lines,
		}
		Seal(&j, prev)
		prev = j.Hash
		out = append(out, j)
	}
	return out
}

func TestComputeHashDeterministic(t *testing.T) {
	js := buildChain(t, 1)
	j := js[0]
	assert.Equal(t, j.Hash, ComputeHash(j, j.PrevHash))
	assert.Len(t, j.Hash, 64)

	// Line order does not matter.
	swapped := j
	swapped.Lines = []journal.Line{j.Lines[1], j.Lines[0]}
	assert.Equal(t, j.Hash, ComputeHash(swapped, j.PrevHash))

	// Time zone does not matter.
	local := j
	local.CreatedAt = j.CreatedAt.In(time.FixedZone("WAT", 3600))
	assert.Equal(t, j.Hash, ComputeHash(local, j.PrevHash))

	assert.NotEqual(t, j.Hash, ComputeHash(j, "other"))
}

func TestVerifyRangeValid(t *testing.T) {
	res := VerifyRange(buildChain(t, 5))
	assert.True(t, res.Valid)
	assert.Equal(t, 5, res.Checked)
	assert.Empty(t, res.BrokenAtID)
}

func TestVerifyRangeDetectsEveryFieldMutation(t *testing.T) {
	mutations := map[string]func(j *journal.Journal){
		"id":              func(j *journal.Journal) { j.ID = "forged" },
		"type":            func(j *journal.Journal) { j.Type = journal.Withdrawal },
		"actor":           func(j *journal.Journal) { j.ActorID = "mallory" },
		"currency":        func(j *journal.Journal) { j.Currency = "USD" },
		"correlation":     func(j *journal.Journal) { j.CorrelationID = "x" },
		"idempotency key": func(j *journal.Journal) { j.IdempotencyKey = "x" },
		"state":           func(j *journal.Journal) { j.State = journal.Reversed },
		"description":     func(j *journal.Journal) { j.Description = "x" },
		"reversal of":     func(j *journal.Journal) { j.ReversalOf = "j-0" },
		"created at":      func(j *journal.Journal) { j.CreatedAt = j.CreatedAt.Add(time.Second) },
		"prev hash":       func(j *journal.Journal) { j.PrevHash = "00" },
		"hash":            func(j *journal.Journal) { j.Hash = "00" },
		"line amount":     func(j *journal.Journal) { j.Lines[0].Amount++ },
		"line account":    func(j *journal.Journal) { j.Lines[1].Account.OwnerID = "mallory" },
		"line direction":  func(j *journal.Journal) { j.Lines[0].Direction = journal.Credit },
		"line memo":       func(j *journal.Journal) { j.Lines[0].Description = "x" },
	}
	for name, mutate := range mutations {
		for _, idx := range []int{0, 2, 4} {
			t.Run(fmt.Sprintf("%s/%d", name, idx), func(t *testing.T) {
				js := buildChain(t, 5)
				mutate(&js[idx])
				res := VerifyRange(js)
				assert.False(t, res.Valid)
				assert.Equal(t, js[idx].ID, res.BrokenAtID)
				assert.Equal(t, idx, res.Checked)
			})
		}
	}
}

func TestVerifyRangeDetectsSequenceChange(t *testing.T) {
	js := buildChain(t, 5)
	js[4].Sequence = 99
	res := VerifyRange(js)
	assert.False(t, res.Valid)
	assert.Equal(t, "j-4", res.BrokenAtID)
}

func TestVerifyRangeSkipsLegacy(t *testing.T) {
	js := buildChain(t, 3)
	legacy := journal.Journal{ID: "legacy", Sequence: 0, CreatedAt: js[0].CreatedAt.Add(-time.Hour)}
	mid := journal.Journal{ID: "legacy-mid", Sequence: 2, CreatedAt: js[1].CreatedAt}
	js[2].Sequence = 3
	res := VerifyRange(append([]journal.Journal{legacy, mid}, js...))
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 2, res.Skipped)
}

func TestVerifyRangeEmptyAndUnordered(t *testing.T) {
	assert.True(t, VerifyRange(nil).Valid)

	js := buildChain(t, 4)
	shuffled := []journal.Journal{js[2], js[0], js[3], js[1]}
	assert.True(t, VerifyRange(shuffled).Valid)
}

func TestVerifyRangeWindowAnchorsOnFirst(t *testing.T) {
	js := buildChain(t, 6)
	res := VerifyRange(js[3:])
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.Checked)
}

type staticSource []journal.Journal

func (s staticSource) JournalsInRange(context.Context, time.Time, time.Time) ([]journal.Journal, error) {
	return s, nil
}

func TestAuditorPublishesOutcome(t *testing.T) {
	js := buildChain(t, 3)
	rec := &events.Recorder{}
	a := NewAuditor(staticSource(js), rec, logging.Discard(), 0)

	res, err := a.Check(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.Len(t, rec.Events, 1)
	assert.Equal(t, events.IntegrityVerified, rec.Events[0].Name)

	js[1].Description = "tampered"
	a = NewAuditor(staticSource(js), rec, logging.Discard(), 0)
	res, err = a.Check(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, rec.Events, 2)
	assert.Equal(t, events.IntegrityBroken, rec.Events[1].Name)
	assert.Equal(t, "j-1", rec.Events[1].EntityID)
}

func TestAuditorRunWithoutIntervalReturns(t *testing.T) {
	rec := &events.Recorder{}
	done := make(chan struct{})
	go func() {
		NewAuditor(staticSource(nil), rec, logging.Discard(), 0).Run(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("auditor with zero interval kept running")
	}
	assert.Empty(t, rec.Events)
}
