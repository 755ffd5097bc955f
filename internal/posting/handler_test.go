package posting

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/journal"
	"github.com/congo-pay/mobile_ledger/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, fixture) {
	t.Helper()
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	auditor := chain.NewAuditor(f.store, f.events, logging.Discard(), 0)
	h := NewHandler(f.engine, f.store, auditor)

	app := fiber.New()
	app.Post("/postings", h.Post)
	app.Post("/journals/:journalId/reversal", h.Reverse)
	app.Get("/journals", h.Journals)
	app.Get("/journals/:journalId", h.Journal)
	app.Get("/receipts/:actorType/:actorId/:type/:key", h.Receipt)
	app.Get("/ledger/verify", h.Verify)
	return app, f
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

const p2pBody = `{"actor_type":"customer","actor_id":"alice","counterparty_type":"customer","counterparty_id":"bob","type":"p2p_transfer","currency":"xaf","amount":"30.00"}`

func TestHandlerPostAndReplay(t *testing.T) {
	app, f := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/postings", p2pBody, map[string]string{"Idempotency-Key": "h-1", "X-Request-ID": "req-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "30.00", body["total_amount"])
	assert.Equal(t, "req-1", body["correlation_id"])
	assert.Equal(t, "XAF", body["currency"])
	journalID := body["journal_id"].(string)

	resp, body = doJSON(t, app, http.MethodPost, "/postings", p2pBody, map[string]string{"Idempotency-Key": "h-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(replayedHeader))
	assert.Equal(t, journalID, body["journal_id"])

	conflicting := strings.Replace(p2pBody, "30.00", "31.00", 1)
	resp, _ = doJSON(t, app, http.MethodPost, "/postings", conflicting, map[string]string{"Idempotency-Key": "h-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/receipts/customer/alice/p2p_transfer/h-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, journalID, body["journal_id"])

	assert.Equal(t, "70.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
}

func TestHandlerErrorStatuses(t *testing.T) {
	app, _ := setupTestApp(t)

	cases := map[string]struct {
		body string
		key  string
		want int
	}{
		"bad amount":   {strings.Replace(p2pBody, "30.00", "30.001", 1), "e-1", http.StatusBadRequest},
		"no key":       {p2pBody, "", http.StatusBadRequest},
		"reversal":     {strings.Replace(p2pBody, "p2p_transfer", "reversal", 1), "e-2", http.StatusBadRequest},
		"insufficient": {strings.Replace(p2pBody, "30.00", "300.00", 1), "e-3", http.StatusUnprocessableEntity},
		"unknown":      {strings.Replace(p2pBody, `"bob"`, `"carol"`, 1), "e-4", http.StatusNotFound},
		"bad json":     {`{"amount":`, "e-5", http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.key != "" {
				headers["Idempotency-Key"] = tc.key
			}
			resp, _ := doJSON(t, app, http.MethodPost, "/postings", tc.body, headers)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestHandlerReverseAndInspect(t *testing.T) {
	app, f := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/postings", p2pBody, map[string]string{"Idempotency-Key": "h-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	journalID := body["journal_id"].(string)

	resp, body = doJSON(t, app, http.MethodPost, "/journals/"+journalID+"/reversal",
		`{"actor_type":"customer","actor_id":"alice","idempotency_key":"r-1"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, journalID, body["reversal_of"])

	resp, _ = doJSON(t, app, http.MethodPost, "/journals/"+journalID+"/reversal",
		`{"actor_type":"customer","actor_id":"alice","idempotency_key":"r-2"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/journals/"+journalID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(journal.Reversed), body["state"])
	assert.Len(t, body["lines"], 2)

	resp, _ = doJSON(t, app, http.MethodGet, "/journals/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/journals", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["journals"], 3)
	states := map[string]string{}
	for _, raw := range body["journals"].([]any) {
		item := raw.(map[string]any)
		states[item["id"].(string)] = item["state"].(string)
	}
	assert.Equal(t, string(journal.Reversed), states[journalID])

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp, body = doJSON(t, app, http.MethodGet, "/journals?from="+future, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["journals"], 0)

	resp, _ = doJSON(t, app, http.MethodGet, "/journals?from=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/ledger/verify", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(3), body["checked"])
	assert.Len(t, f.events.Named("ledger.integrity_verified"), 1)
}
