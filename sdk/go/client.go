package daosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal governance HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// Account is sent as X-Account. The server only honours it when started
	// with --allow-account-header.
	Account    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Params are the voting parameters. Amounts are decimal strings.
type Params struct {
	Custody          string `json:"custody"`
	VotingDuration   string `json:"voting_duration"`
	MinQuorumPercent uint64 `json:"min_quorum_percent"`
	ReferenceSupply  string `json:"reference_supply"`
	UpdatedAt        string `json:"updated_at"`
}

// Account is a staker's deposit and open commitments.
type Account struct {
	Address         string `json:"address"`
	Staked          string `json:"staked"`
	OpenCommitments int    `json:"open_commitments"`
	Frozen          bool   `json:"frozen"`
}

type Proposal struct {
	ID           uint64 `json:"id"`
	Creator      string `json:"creator"`
	Recipient    string `json:"recipient"`
	CallData     string `json:"call_data"`
	Description  string `json:"description"`
	VotesFor     string `json:"votes_for"`
	VotesAgainst string `json:"votes_against"`
	Status       string `json:"status"`
	StatusCode   uint8  `json:"status_code"`
	CreatedAt    string `json:"created_at"`
	Deadline     string `json:"deadline"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

type Vote struct {
	ProposalID uint64 `json:"proposal_id"`
	Voter      string `json:"voter"`
	Support    bool   `json:"support"`
	Weight     string `json:"weight"`
	CastAt     string `json:"cast_at"`
}

type Delegation struct {
	ProposalID uint64 `json:"proposal_id"`
	Delegator  string `json:"delegator"`
	Delegate   string `json:"delegate"`
	Weight     string `json:"weight,omitempty"`
	CountedBy  string `json:"counted_by,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code is the server's error code, e.g.
// "voted_already" or "tokens_frozen", when the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type PaginatedProposals struct {
	Items      []Proposal `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// ProposalQuery filters ListProposals. Zero values are ignored.
type ProposalQuery struct {
	Status  string
	Creator string
	Limit   int
	Cursor  string
}

func (c *Client) Params(ctx context.Context) (Params, error) {
	var resp Params
	err := c.do(ctx, http.MethodGet, "params", nil, &resp)
	return resp, err
}

// Account returns the stake and commitments of address.
func (c *Client) Account(ctx context.Context, address string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodGet, "accounts/"+url.PathEscape(address), nil, &resp)
	return resp, err
}

// Stake deposits amount (decimal base units) for the calling account.
func (c *Client) Stake(ctx context.Context, amount string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodPost, "stake", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// Unstake withdraws the whole deposit and returns the amount sent back.
func (c *Client) Unstake(ctx context.Context) (string, error) {
	var resp struct {
		Returned string `json:"returned"`
	}
	err := c.do(ctx, http.MethodPost, "unstake", nil, &resp)
	return resp.Returned, err
}

// AddProposal registers a call to recipient with hex calldata.
func (c *Client) AddProposal(ctx context.Context, recipient, callData, description string) (Proposal, error) {
	body := map[string]any{
		"recipient":   recipient,
		"call_data":   callData,
		"description": description,
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "proposals", body, &resp)
	return resp, err
}

func (c *Client) Proposal(ctx context.Context, id uint64) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodGet, proposalPath(id, ""), nil, &resp)
	return resp, err
}

// ListProposals returns one page of proposals, oldest first.
func (c *Client) ListProposals(ctx context.Context, q ProposalQuery) (PaginatedProposals, error) {
	values := url.Values{}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.Creator != "" {
		values.Set("creator", q.Creator)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		values.Set("cursor", q.Cursor)
	}
	endpoint := "proposals"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	var resp PaginatedProposals
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Vote(ctx context.Context, id uint64, support bool) (Vote, error) {
	var resp Vote
	err := c.do(ctx, http.MethodPost, proposalPath(id, "votes"), map[string]any{"support": support}, &resp)
	return resp, err
}

func (c *Client) Votes(ctx context.Context, id uint64) ([]Vote, error) {
	var resp []Vote
	err := c.do(ctx, http.MethodGet, proposalPath(id, "votes"), nil, &resp)
	return resp, err
}

// Delegate hands the caller's voting right on proposal id to delegate.
func (c *Client) Delegate(ctx context.Context, id uint64, delegate string) (Delegation, error) {
	var resp Delegation
	err := c.do(ctx, http.MethodPost, proposalPath(id, "delegations"), map[string]any{"delegate": delegate}, &resp)
	return resp, err
}

func (c *Client) Delegations(ctx context.Context, id uint64) ([]Delegation, error) {
	var resp []Delegation
	err := c.do(ctx, http.MethodGet, proposalPath(id, "delegations"), nil, &resp)
	return resp, err
}

// Finish settles proposal id once its voting window has passed.
func (c *Client) Finish(ctx context.Context, id uint64) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, proposalPath(id, "finish"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		values.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.Account != "":
		req.Header.Set("X-Account", c.Account)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func proposalPath(id uint64, sub string) string {
	p := "proposals/" + strconv.FormatUint(id, 10)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
