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
	"github.com/stheg/dao-market-referrals-program/internal/repo"
)

// openForVoting checks that a proposal still accepts dispositions.
func (e Engine) openForVoting(ctx context.Context, tx *sql.Tx, id uint64) (domain.Proposal, error) {
	p, err := e.loadProposal(ctx, tx, id)
	if err != nil {
		return p, err
	}
	if p.Status.Final() {
		return p, fmt.Errorf("proposal %d is %s: %w", id, p.Status, ErrHandledAlready)
	}
	params, err := e.Repo.GetParams(ctx, tx)
	if err != nil {
		return p, fmt.Errorf("load params: %w", err)
	}
	if !e.now().Before(p.Deadline(params.VotingDuration)) {
		return p, fmt.Errorf("proposal %d: %w", id, ErrVotingClosed)
	}
	return p, nil
}

// requireStake returns the caller's stake or ErrNoDeposit.
func (e Engine) requireStake(ctx context.Context, tx *sql.Tx, caller common.Address) (*big.Int, error) {
	staked, err := e.Repo.StakeOf(ctx, tx, caller)
	if err != nil {
		return nil, err
	}
	if staked.Sign() == 0 {
		return nil, ErrNoDeposit
	}
	return staked, nil
}

// disposed reports whether the caller already voted or delegated on id.
func (e Engine) disposed(ctx context.Context, tx *sql.Tx, id uint64, caller common.Address) (bool, error) {
	if _, err := e.Repo.GetVote(ctx, tx, id, caller); err == nil {
		return true, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	if _, err := e.Repo.GetDelegation(ctx, tx, id, caller); err == nil {
		return true, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	return false, nil
}

// Vote casts the caller's weight, plus everything delegated to it on this
// proposal, for or against.
func (e Engine) Vote(ctx context.Context, caller common.Address, id uint64, support bool) (domain.Vote, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vote{}, err
	}
	defer tx.Rollback()

	p, err := e.openForVoting(ctx, tx, id)
	if err != nil {
		return domain.Vote{}, err
	}
	own, err := e.requireStake(ctx, tx, caller)
	if err != nil {
		return domain.Vote{}, err
	}
	done, err := e.disposed(ctx, tx, id, caller)
	if err != nil {
		return domain.Vote{}, err
	}
	if done {
		return domain.Vote{}, ErrVotedAlready
	}

	folded, err := e.foldDelegations(ctx, tx, id, caller)
	if err != nil {
		return domain.Vote{}, err
	}
	weight := new(big.Int).Set(own)
	for _, edge := range folded {
		weight.Add(weight, edge.weight)
		if err := e.Repo.MarkDelegationCounted(ctx, tx, id, edge.delegator, caller, edge.weight.String()); err != nil {
			return domain.Vote{}, fmt.Errorf("count delegation from %s: %w", edge.delegator.Hex(), err)
		}
	}

	votesFor, votesAgainst := new(big.Int).Set(p.VotesFor), new(big.Int).Set(p.VotesAgainst)
	if support {
		votesFor.Add(votesFor, weight)
	} else {
		votesAgainst.Add(votesAgainst, weight)
	}
	v := domain.Vote{
		ProposalID: id,
		Voter:      caller,
		Support:    support,
		Weight:     weight,
		CastAt:     e.now().UTC().Truncate(time.Second),
	}
	if err := e.Repo.InsertVote(ctx, tx, v); err != nil {
		return domain.Vote{}, fmt.Errorf("insert vote: %w", err)
	}
	if err := e.Repo.UpdateTally(ctx, tx, id, votesFor, votesAgainst); err != nil {
		return domain.Vote{}, fmt.Errorf("update tally: %w", err)
	}
	if err := e.Repo.AddCommitment(ctx, tx, caller, id); err != nil {
		return domain.Vote{}, fmt.Errorf("add commitment: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ProposalVoted, "proposal", proposalEntity(id), caller, events.EventPayload{
		"id":         id,
		"support":    support,
		"weight":     weight.String(),
		"delegators": len(folded),
	}); err != nil {
		return domain.Vote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Vote{}, err
	}
	e.Metrics.Voted(support)
	return v, nil
}

type foldedEdge struct {
	delegator common.Address
	weight    *big.Int
}

// foldDelegations walks the delegation index breadth-first from voter and
// returns every account whose chain ends at voter, each exactly once, with
// its current stake.
func (e Engine) foldDelegations(ctx context.Context, tx *sql.Tx, id uint64, voter common.Address) ([]foldedEdge, error) {
	seen := map[common.Address]struct{}{voter: {}}
	queue := []common.Address{voter}
	var folded []foldedEdge
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		delegators, err := e.Repo.DelegatorsOf(ctx, tx, id, cur)
		if err != nil {
			return nil, err
		}
		for _, d := range delegators {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			stake, err := e.Repo.StakeOf(ctx, tx, d)
			if err != nil {
				return nil, err
			}
			folded = append(folded, foldedEdge{delegator: d, weight: stake})
			queue = append(queue, d)
		}
	}
	return folded, nil
}

// Delegate hands the caller's voting right on one proposal to another
// account. The weight is realised when the end of the chain votes.
func (e Engine) Delegate(ctx context.Context, caller, to common.Address, id uint64) (domain.Delegation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Delegation{}, err
	}
	defer tx.Rollback()

	if _, err := e.openForVoting(ctx, tx, id); err != nil {
		return domain.Delegation{}, err
	}
	if _, err := e.requireStake(ctx, tx, caller); err != nil {
		return domain.Delegation{}, err
	}
	done, err := e.disposed(ctx, tx, id, caller)
	if err != nil {
		return domain.Delegation{}, err
	}
	if done {
		return domain.Delegation{}, ErrVotedAlready
	}
	if to == (common.Address{}) || to == caller {
		return domain.Delegation{}, ErrInvalidDelegate
	}
	terminal, err := e.chainEnd(ctx, tx, id, caller, to)
	if err != nil {
		return domain.Delegation{}, err
	}
	if _, err := e.Repo.GetVote(ctx, tx, id, terminal); err == nil {
		if terminal == to {
			return domain.Delegation{}, ErrDelegateVotedAlready
		}
		return domain.Delegation{}, fmt.Errorf("%w: %s delegates to %s", ErrDelegateVotedAlready, to.Hex(), terminal.Hex())
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Delegation{}, err
	}

	d := domain.Delegation{
		ProposalID: id,
		Delegator:  caller,
		Delegate:   to,
		CreatedAt:  e.now().UTC().Truncate(time.Second),
	}
	if err := e.Repo.InsertDelegation(ctx, tx, d); err != nil {
		return domain.Delegation{}, fmt.Errorf("insert delegation: %w", err)
	}
	if err := e.Repo.AddCommitment(ctx, tx, caller, id); err != nil {
		return domain.Delegation{}, fmt.Errorf("add commitment: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ProposalDelegated, "proposal", proposalEntity(id), caller, events.EventPayload{
		"id":       id,
		"delegate": to.Hex(),
	}); err != nil {
		return domain.Delegation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Delegation{}, err
	}
	e.Metrics.Delegated()
	return d, nil
}

// chainEnd follows outgoing edges from start and returns the account that
// has not delegated further. Reaching caller means the new edge would close
// a cycle.
func (e Engine) chainEnd(ctx context.Context, tx *sql.Tx, id uint64, caller, start common.Address) (common.Address, error) {
	cur := start
	seen := map[common.Address]struct{}{}
	for {
		if cur == caller {
			return common.Address{}, ErrDelegationCycle
		}
		if _, ok := seen[cur]; ok {
			return common.Address{}, ErrDelegationCycle
		}
		seen[cur] = struct{}{}
		edge, err := e.Repo.GetDelegation(ctx, tx, id, cur)
		if errors.Is(err, repo.ErrNotFound) {
			return cur, nil
		}
		if err != nil {
			return common.Address{}, err
		}
		cur = edge.Delegate
	}
}

// ListVotes returns the direct votes on a proposal.
func (e Engine) ListVotes(ctx context.Context, id uint64) ([]domain.Vote, error) {
	if _, err := e.GetProposal(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListVotes(ctx, id)
}

// ListDelegations returns the delegation edges on a proposal.
func (e Engine) ListDelegations(ctx context.Context, id uint64) ([]domain.Delegation, error) {
	if _, err := e.GetProposal(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListDelegations(ctx, id)
}
