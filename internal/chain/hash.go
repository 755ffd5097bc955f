package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// GenesisHash is the prev_hash of the first journal in a chain.
const GenesisHash = ""

type canonicalLine struct {
	Account     string `json:"account"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// canonicalJournal fixes field order. Amounts and sequence are strings so the encoding
// never depends on number formatting.
type canonicalJournal struct {
	PrevHash       string          `json:"prev_hash"`
	ID             string          `json:"id"`
	Sequence       string          `json:"sequence"`
	Type           string          `json:"type"`
	ActorID        string          `json:"actor_id"`
	Currency       string          `json:"currency"`
	CorrelationID  string          `json:"correlation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	State          string          `json:"state"`
	Description    string          `json:"description"`
	ReversalOf     string          `json:"reversal_of"`
	CreatedAt      string          `json:"created_at"`
	Lines          []canonicalLine `json:"lines"`
}

// ComputeHash returns the hex SHA-256 of prevHash joined with the journal's canonical form.
// The stored Hash and PrevHash fields of j are ignored.
func ComputeHash(j journal.Journal, prevHash string) string {
	lines := make([]canonicalLine, len(j.Lines))
	for i, l := range j.Lines {
		lines[i] = canonicalLine{
			Account:     l.Account.Code(),
			Direction:   string(l.Direction),
			Amount:      strconv.FormatInt(l.Amount, 10),
			Description: l.Description,
		}
	}
	sort.Slice(lines, func(a, b int) bool {
		la, lb := lines[a], lines[b]
		if la.Account != lb.Account {
			return la.Account < lb.Account
		}
		if la.Direction != lb.Direction {
			return la.Direction < lb.Direction
		}
		if la.Amount != lb.Amount {
			return la.Amount < lb.Amount
		}
		return la.Description < lb.Description
	})

	doc := canonicalJournal{
		PrevHash:       prevHash,
		ID:             j.ID,
		Sequence:       strconv.FormatInt(j.Sequence, 10),
		Type:           string(j.Type),
		ActorID:        j.ActorID,
		Currency:       j.Currency,
		CorrelationID:  j.CorrelationID,
		IdempotencyKey: j.IdempotencyKey,
		State:          string(j.State),
		Description:    j.Description,
		ReversalOf:     j.ReversalOf,
		CreatedAt:      j.CreatedAt.UTC().Format(time.RFC3339Nano),
		Lines:          lines,
	}

	// Marshal of this struct cannot fail: it only holds strings.
	payload, _ := json.Marshal(doc)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Seal links j to prevHash and stores its content hash.
func Seal(j *journal.Journal, prevHash string) {
	j.PrevHash = prevHash
	j.Hash = ComputeHash(*j, prevHash)
}
