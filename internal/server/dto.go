package server

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
)

// Request payloads

type StakeRequest struct {
	Amount string `json:"amount" pattern:"^[0-9]+$" doc:"Token amount in base units"`
}

type CreateProposalRequest struct {
	Recipient   string `json:"recipient" doc:"Address called when the proposal is approved"`
	CallData    string `json:"call_data,omitempty" doc:"Hex encoded calldata"`
	Description string `json:"description,omitempty"`
}

type VoteRequest struct {
	Support bool `json:"support"`
}

type DelegateRequest struct {
	Delegate string `json:"delegate"`
}

type UpdateParamsRequest struct {
	VotingDuration   *string `json:"voting_duration,omitempty" doc:"Go duration, e.g. 72h"`
	MinQuorumPercent *uint64 `json:"min_quorum_percent,omitempty" maximum:"100"`
	ReferenceSupply  *string `json:"reference_supply,omitempty" pattern:"^[0-9]+$"`
}

type RoleChangeRequest struct {
	Account string `json:"account"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	Account string `json:"account"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ParamsResponse struct {
	Custody          string `json:"custody"`
	VotingDuration   string `json:"voting_duration"`
	MinQuorumPercent uint64 `json:"min_quorum_percent"`
	ReferenceSupply  string `json:"reference_supply"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

type AccountResponse struct {
	Address         string `json:"address"`
	Staked          string `json:"staked"`
	OpenCommitments int    `json:"open_commitments"`
	Frozen          bool   `json:"frozen"`
}

type UnstakeResponse struct {
	Address  string `json:"address"`
	Returned string `json:"returned"`
}

type ProposalResponse struct {
	ID           uint64  `json:"id"`
	Creator      string  `json:"creator"`
	Recipient    string  `json:"recipient"`
	CallData     string  `json:"call_data"`
	Description  string  `json:"description"`
	VotesFor     string  `json:"votes_for"`
	VotesAgainst string  `json:"votes_against"`
	Status       string  `json:"status" enum:"in_progress,approved,rejected,cancelled"`
	StatusCode   uint8   `json:"status_code"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	Deadline     string  `json:"deadline,omitempty" format:"date-time"`
	FinishedAt   *string `json:"finished_at,omitempty" format:"date-time"`
}

type VoteResponse struct {
	ProposalID uint64 `json:"proposal_id"`
	Voter      string `json:"voter"`
	Support    bool   `json:"support"`
	Weight     string `json:"weight"`
	CastAt     string `json:"cast_at" format:"date-time"`
}

type DelegationResponse struct {
	ProposalID uint64  `json:"proposal_id"`
	Delegator  string  `json:"delegator"`
	Delegate   string  `json:"delegate"`
	Weight     *string `json:"weight,omitempty"`
	CountedBy  *string `json:"counted_by,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedProposals struct {
	Items      []ProposalResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	Account     string   `json:"account"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func paramsResponse(p domain.Params) ParamsResponse {
	return ParamsResponse{
		Custody:          p.Custody.Hex(),
		VotingDuration:   p.VotingDuration.String(),
		MinQuorumPercent: p.MinQuorumPercent,
		ReferenceSupply:  amountString(p.ReferenceSupply),
		UpdatedAt:        p.UpdatedAt,
	}
}

func accountResponse(a domain.Account) AccountResponse {
	return AccountResponse{
		Address:         a.Address.Hex(),
		Staked:          amountString(a.Staked),
		OpenCommitments: a.OpenCommitments,
		Frozen:          a.OpenCommitments > 0,
	}
}

func proposalResponse(p domain.Proposal, votingDuration time.Duration) ProposalResponse {
	resp := ProposalResponse{
		ID:           p.ID,
		Creator:      p.Creator.Hex(),
		Recipient:    p.Recipient.Hex(),
		CallData:     p.CallData.String(),
		Description:  p.Description,
		VotesFor:     amountString(p.VotesFor),
		VotesAgainst: amountString(p.VotesAgainst),
		Status:       p.Status.String(),
		StatusCode:   uint8(p.Status),
		CreatedAt:    formatTime(p.CreatedAt),
	}
	if votingDuration > 0 {
		resp.Deadline = formatTime(p.Deadline(votingDuration))
	}
	if p.FinishedAt != nil {
		resp.FinishedAt = lo.ToPtr(formatTime(*p.FinishedAt))
	}
	return resp
}

func voteResponse(v domain.Vote) VoteResponse {
	return VoteResponse{
		ProposalID: v.ProposalID,
		Voter:      v.Voter.Hex(),
		Support:    v.Support,
		Weight:     amountString(v.Weight),
		CastAt:     formatTime(v.CastAt),
	}
}

func delegationResponse(d domain.Delegation) DelegationResponse {
	resp := DelegationResponse{
		ProposalID: d.ProposalID,
		Delegator:  d.Delegator.Hex(),
		Delegate:   d.Delegate.Hex(),
		CreatedAt:  formatTime(d.CreatedAt),
	}
	if d.Weight != nil {
		resp.Weight = lo.ToPtr(d.Weight.String())
	}
	if d.CountedBy != nil {
		resp.CountedBy = lo.ToPtr(d.CountedBy.Hex())
	}
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func mapProposals(items []domain.Proposal, votingDuration time.Duration) []ProposalResponse {
	return lo.Map(items, func(p domain.Proposal, _ int) ProposalResponse {
		return proposalResponse(p, votingDuration)
	})
}

func mapVotes(items []domain.Vote) []VoteResponse {
	return lo.Map(items, func(v domain.Vote, _ int) VoteResponse { return voteResponse(v) })
}

func mapDelegations(items []domain.Delegation) []DelegationResponse {
	return lo.Map(items, func(d domain.Delegation, _ int) DelegationResponse { return delegationResponse(d) })
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseAddress(v string) (common.Address, bool) {
	if !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func parseAmount(v string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
