package daosdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	var gotKey, gotPath, gotQuery string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		switch r.URL.Path {
		case "/v0/proposals/3/votes":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"proposal_id":3,"voter":"0xabc","support":true,"weight":"150","cast_at":"2026-01-01T00:00:00Z"}`))
		case "/v0/proposals":
			_, _ = w.Write([]byte(`{"items":[{"id":1,"status":"approved","status_code":1}],"next_cursor":"1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "dao_secret"
	ctx := context.Background()

	vote, err := c.Vote(ctx, 3, true)
	require.NoError(t, err)
	assert.Equal(t, "dao_secret", gotKey)
	assert.Equal(t, "/v0/proposals/3/votes", gotPath)
	assert.Equal(t, true, gotBody["support"])
	assert.Equal(t, "150", vote.Weight)

	page, err := c.ListProposals(ctx, ProposalQuery{Status: "approved", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "limit=1&status=approved", gotQuery)
	require.Len(t, page.Items, 1)
	assert.Equal(t, uint8(1), page.Items[0].StatusCode)
	assert.Equal(t, "1", page.NextCursor)
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0x00000000000000000000000000000000000a11ce", r.Header.Get("X-Account"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"tokens_frozen","message":"tokens frozen"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Account = "0x00000000000000000000000000000000000a11ce"
	_, err := c.Unstake(context.Background())
	require.Error(t, err)
	assert.Equal(t, "tokens_frozen", ErrorCode(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}
