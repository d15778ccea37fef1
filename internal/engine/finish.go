package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/events"
)

// Finish resolves a proposal whose voting window has elapsed. Commitments
// are released, then the tally is classified: below quorum is Cancelled,
// a tie or majority against is Rejected, otherwise the attached call runs
// from custody and the proposal is Approved. A failed call aborts the whole
// transaction and leaves the proposal in progress for a later retry.
func (e Engine) Finish(ctx context.Context, caller common.Address, id uint64) (domain.Proposal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProposal(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, err
	}
	if p.Status.Final() {
		return domain.Proposal{}, fmt.Errorf("proposal %d is %s: %w", id, p.Status, ErrHandledAlready)
	}
	params, err := e.Repo.GetParams(ctx, tx)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("load params: %w", err)
	}
	now := e.now()
	if now.Before(p.Deadline(params.VotingDuration)) {
		return domain.Proposal{}, fmt.Errorf("proposal %d closes at %s: %w", id, p.Deadline(params.VotingDuration).UTC().Format(time.RFC3339), ErrVotingInProcess)
	}

	released, err := e.Repo.ClearCommitments(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("release commitments: %w", err)
	}
	supply, err := e.referenceSupply(ctx, tx, params)
	if err != nil {
		return domain.Proposal{}, err
	}
	status := Classify(p.VotesFor, p.VotesAgainst, params.MinQuorumPercent, supply)
	if status == domain.StatusApproved {
		if e.Executor == nil {
			return domain.Proposal{}, recipientCallError(errors.New("executor not configured"))
		}
		call := domain.Call{From: params.Custody, To: p.Recipient, Data: p.CallData}
		if err := e.Executor.Execute(ctx, tx, call); err != nil {
			e.Metrics.RecipientCallFailed()
			e.logger().Warn("recipient call failed", "proposal", id, "recipient", p.Recipient.Hex(), "err", err)
			return domain.Proposal{}, recipientCallError(err)
		}
	}

	finishedAt := now.UTC().Truncate(time.Second)
	if err := e.Repo.SetStatus(ctx, tx, id, status, finishedAt); err != nil {
		return domain.Proposal{}, fmt.Errorf("set status: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ProposalFinished, "proposal", proposalEntity(id), caller, events.EventPayload{
		"id":            id,
		"status":        status.String(),
		"status_code":   uint8(status),
		"votes_for":     p.VotesFor.String(),
		"votes_against": p.VotesAgainst.String(),
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	e.Metrics.Finished(status)
	e.logger().Info("proposal finished", "proposal", id, "status", status.String(), "released", released)
	p.Status = status
	p.FinishedAt = &finishedAt
	return p, nil
}

// Classify applies the quorum and majority rules. Turnout is below quorum
// when (for+against)*100 < percent*supply.
func Classify(votesFor, votesAgainst *big.Int, quorumPercent uint64, supply *big.Int) domain.Status {
	total := new(big.Int).Add(votesFor, votesAgainst)
	turnout := new(big.Int).Mul(total, big.NewInt(100))
	threshold := new(big.Int).Mul(new(big.Int).SetUint64(quorumPercent), supply)
	switch {
	case turnout.Cmp(threshold) < 0:
		return domain.StatusCancelled
	case votesFor.Cmp(votesAgainst) <= 0:
		return domain.StatusRejected
	default:
		return domain.StatusApproved
	}
}

func (e Engine) referenceSupply(ctx context.Context, tx *sql.Tx, params domain.Params) (*big.Int, error) {
	if params.ReferenceSupply != nil && params.ReferenceSupply.Sign() > 0 {
		return params.ReferenceSupply, nil
	}
	if sr, ok := e.Token.(SupplyReader); ok {
		supply, err := sr.TotalSupply(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("read total supply: %w", err)
		}
		return supply, nil
	}
	return new(big.Int), nil
}
