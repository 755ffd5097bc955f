package idempotency

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/mobile_ledger/internal/journal"
)

func TestScopeFingerprintDeterministic(t *testing.T) {
	base := ScopeFingerprint("alice", journal.P2PTransfer, "k-1")
	assert.Equal(t, base, ScopeFingerprint("alice", journal.P2PTransfer, "k-1"))
	assert.Len(t, base, 64)

	assert.NotEqual(t, base, ScopeFingerprint("bob", journal.P2PTransfer, "k-1"))
	assert.NotEqual(t, base, ScopeFingerprint("alice", journal.Withdrawal, "k-1"))
	assert.NotEqual(t, base, ScopeFingerprint("alice", journal.P2PTransfer, "k-2"))
}

func TestScopeFingerprintNoBoundaryCollision(t *testing.T) {
	assert.NotEqual(t,
		ScopeFingerprint("ab", journal.Deposit, "c"),
		ScopeFingerprint("a", journal.Deposit, "bc"),
	)
}

func TestPayloadFingerprintKeyOrder(t *testing.T) {
	a, err := PayloadFingerprint([]byte(`{"amount":"10.00","currency":"XAF","meta":{"x":1,"y":2}}`))
	require.NoError(t, err)
	b, err := PayloadFingerprint([]byte(`{ "meta": {"y":2, "x":1}, "currency":"XAF", "amount":"10.00" }`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := PayloadFingerprint([]byte(`{"amount":"10.01","currency":"XAF","meta":{"x":1,"y":2}}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestPayloadFingerprintKeepsNumberText(t *testing.T) {
	a, err := PayloadFingerprint([]byte(`{"n":10}`))
	require.NoError(t, err)
	b, err := PayloadFingerprint([]byte(`{"n":10.0}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	big, err := Canonicalize([]byte(`{"n":12345678901234567890}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":12345678901234567890}`, string(big))
}

func TestPayloadFingerprintRejectsInvalid(t *testing.T) {
	_, err := PayloadFingerprint([]byte(`{"a":`))
	assert.Error(t, err)
	_, err = PayloadFingerprint([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestPayloadFingerprintOfStruct(t *testing.T) {
	type body struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	fromStruct, err := PayloadFingerprintOf(body{A: "1", B: "2"})
	require.NoError(t, err)
	fromText, err := PayloadFingerprint([]byte(`{"a":"1","b":"2"}`))
	require.NoError(t, err)
	assert.Equal(t, fromText, fromStruct)
}

func TestClassify(t *testing.T) {
	rec := &Record{ScopeFP: "s", PayloadFP: "p", JournalID: "j-1", Result: []byte(`{"journal_id":"j-1"}`)}

	assert.Equal(t, New, Classify(nil, "p").Outcome)

	dup := Classify(rec, "p")
	assert.Equal(t, Duplicate, dup.Outcome)
	assert.Equal(t, rec.Result, dup.Result)

	conflict := Classify(rec, "other")
	assert.Equal(t, Conflict, conflict.Outcome)
	assert.Nil(t, conflict.Result)
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Record{}.Expired(now))
	assert.False(t, Record{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Record{ExpiresAt: now}.Expired(now))
}

func TestCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewCache(client)
	ctx := context.Background()

	miss, err := cache.Get(ctx, "scope")
	require.NoError(t, err)
	assert.Nil(t, miss)

	rec := Record{ScopeFP: "scope", PayloadFP: "p", JournalID: "j-1", Result: []byte(`{"ok":true}`), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, cache.Put(ctx, rec, time.Minute))

	got, err := cache.Get(ctx, "scope")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p", got.PayloadFP)
	assert.Equal(t, "j-1", got.JournalID)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.True(t, mr.TTL(cachePrefix+"scope") > 0)

	mr.FastForward(2 * time.Hour)
	gone, err := cache.Get(ctx, "scope")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCacheSkipsExpiredRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewCache(client)
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, Record{ScopeFP: "old", ExpiresAt: time.Now().Add(-time.Second)}, time.Minute))
	assert.False(t, mr.Exists(cachePrefix+"old"))
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	got, err := cache.Get(ctx, "x")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, cache.Put(ctx, Record{ScopeFP: "x"}, time.Minute))
}
