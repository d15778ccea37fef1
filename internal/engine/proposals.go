package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/engine/auth"
	"github.com/stheg/dao-market-referrals-program/internal/events"
	"github.com/stheg/dao-market-referrals-program/internal/repo"
)

// ProposalCreateOptions are parameters for registering a proposal.
type ProposalCreateOptions struct {
	Recipient   common.Address
	CallData    []byte
	Description string
}

// AddProposal registers a proposal and opens its voting window.
func (e Engine) AddProposal(ctx context.Context, caller common.Address, opts ProposalCreateOptions) (domain.Proposal, error) {
	if opts.Recipient == (common.Address{}) {
		return domain.Proposal{}, errors.New("recipient is required")
	}
	if v, ok := e.Executor.(CallValidator); ok {
		call := domain.Call{To: opts.Recipient, Data: opts.CallData}
		if e.Config != nil {
			call.From = e.Config.CustodyAddress()
		}
		if err := v.Validate(call); err != nil {
			return domain.Proposal{}, fmt.Errorf("%w: %w", ErrInvalidCall, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	if err := e.authorize(ctx, tx, caller, auth.PermProposalCreate); err != nil {
		return domain.Proposal{}, err
	}
	id, err := e.Repo.NextProposalID(ctx, tx)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("allocate proposal id: %w", err)
	}
	p := domain.Proposal{
		ID:           id,
		Creator:      caller,
		Recipient:    opts.Recipient,
		CallData:     append([]byte{}, opts.CallData...),
		Description:  strings.TrimSpace(opts.Description),
		VotesFor:     new(big.Int),
		VotesAgainst: new(big.Int),
		Status:       domain.StatusInProgress,
		CreatedAt:    e.now().UTC().Truncate(time.Second),
	}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ProposalCreated, "proposal", proposalEntity(id), caller, events.EventPayload{
		"id":          id,
		"recipient":   p.Recipient.Hex(),
		"description": p.Description,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	e.Metrics.ProposalCreated()
	return p, nil
}

// GetProposal returns ErrNoSuchVoting for 0 and for ids never allocated.
func (e Engine) GetProposal(ctx context.Context, id uint64) (domain.Proposal, error) {
	return e.loadProposal(ctx, nil, id)
}

func (e Engine) loadProposal(ctx context.Context, tx *sql.Tx, id uint64) (domain.Proposal, error) {
	if id == 0 {
		return domain.Proposal{}, ErrNoSuchVoting
	}
	p, err := e.Repo.GetProposal(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Proposal{}, fmt.Errorf("proposal %d: %w", id, ErrNoSuchVoting)
	}
	return p, err
}

// ListProposals returns proposals in id order, optionally filtered.
func (e Engine) ListProposals(ctx context.Context, f repo.ProposalFilter) ([]domain.Proposal, error) {
	return e.Repo.ListProposals(ctx, f)
}

func proposalEntity(id uint64) string {
	return strconv.FormatUint(id, 10)
}
