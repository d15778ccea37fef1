package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Status is the lifecycle state of a proposal. The numeric values are part
// of the public contract and stored as-is.
type Status uint8

const (
	StatusInProgress Status = iota
	StatusApproved
	StatusRejected
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusInProgress: "in_progress",
	StatusApproved:   "approved",
	StatusRejected:   "rejected",
	StatusCancelled:  "cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Final reports whether the status can no longer change.
func (s Status) Final() bool { return s != StatusInProgress }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus accepts a status name or its numeric code.
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for st, name := range statusNames {
		if v == name || v == fmt.Sprint(uint8(st)) {
			return st, nil
		}
	}
	if v == "canceled" {
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("unknown proposal status %q", v)
}

type Account struct {
	Address         common.Address `json:"address"`
	Staked          *big.Int       `json:"staked"`
	OpenCommitments int            `json:"open_commitments"`
}

type Proposal struct {
	ID           uint64         `json:"id"`
	Creator      common.Address `json:"creator"`
	Recipient    common.Address `json:"recipient"`
	CallData     hexutil.Bytes  `json:"call_data"`
	Description  string         `json:"description"`
	VotesFor     *big.Int       `json:"votes_for"`
	VotesAgainst *big.Int       `json:"votes_against"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// Deadline is the first instant at which the proposal may be finished.
func (p Proposal) Deadline(votingDuration time.Duration) time.Time {
	return p.CreatedAt.Add(votingDuration)
}

// TotalVotes is the weight that took part in the vote.
func (p Proposal) TotalVotes() *big.Int {
	return new(big.Int).Add(orZero(p.VotesFor), orZero(p.VotesAgainst))
}

type Vote struct {
	ProposalID uint64         `json:"proposal_id"`
	Voter      common.Address `json:"voter"`
	Support    bool           `json:"support"`
	Weight     *big.Int       `json:"weight"`
	CastAt     time.Time      `json:"cast_at"`
}

// Delegation is one outgoing edge of the per-proposal delegation graph.
// Weight and CountedBy stay empty until the edge is folded into a vote.
type Delegation struct {
	ProposalID uint64          `json:"proposal_id"`
	Delegator  common.Address  `json:"delegator"`
	Delegate   common.Address  `json:"delegate"`
	Weight     *big.Int        `json:"weight,omitempty"`
	CountedBy  *common.Address `json:"counted_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Params are the governance settings stored alongside the ledger.
type Params struct {
	Custody          common.Address `json:"custody"`
	VotingDuration   time.Duration  `json:"voting_duration"`
	MinQuorumPercent uint64         `json:"min_quorum_percent"`
	ReferenceSupply  *big.Int       `json:"reference_supply"`
	UpdatedAt        string         `json:"updated_at"`
}

// Call is the external invocation performed when a proposal is approved.
type Call struct {
	From common.Address
	To   common.Address
	Data []byte
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
