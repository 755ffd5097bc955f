package idempotency

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// ScopeFingerprint identifies a logical request: who sent it, what kind it is and the
// key the caller chose. Components are length-prefixed so ("ab","c") and ("a","bc")
// never collide.
func ScopeFingerprint(actorID string, txnType journal.TxnType, key string) string {
	var buf bytes.Buffer
	for _, part := range []string{actorID, string(txnType), key} {
		buf.WriteString(strconv.Itoa(len(part)))
		buf.WriteByte(':')
		buf.WriteString(part)
	}
	sum := blake2b.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// PayloadFingerprint hashes a JSON document after normalising key order and whitespace.
// Numbers keep their literal text so 10 and 10.0 are different payloads.
func PayloadFingerprint(body []byte) (string, error) {
	canonical, err := Canonicalize(body)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// PayloadFingerprintOf marshals v and fingerprints the result.
func PayloadFingerprintOf(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return PayloadFingerprint(body)
}

// Canonicalize re-encodes a JSON document with object keys sorted.
func Canonicalize(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode payload: trailing data")
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}
