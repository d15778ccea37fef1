package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/events"
)

// Stake pulls amount from the caller into custody and credits it as voting
// weight. The caller must have approved custody on the token beforehand.
func (e Engine) Stake(ctx context.Context, caller common.Address, amount *big.Int) (domain.Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Account{}, ErrInvalidAmount
	}
	if e.Token == nil {
		return domain.Account{}, errors.New("token not configured")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	params, err := e.Repo.GetParams(ctx, tx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("load params: %w", err)
	}
	if err := e.Token.TransferFrom(ctx, tx, caller, params.Custody, amount); err != nil {
		return domain.Account{}, fmt.Errorf("stake transfer: %w", err)
	}
	staked, err := e.Repo.StakeOf(ctx, tx, caller)
	if err != nil {
		return domain.Account{}, err
	}
	staked = new(big.Int).Add(staked, amount)
	if err := e.Repo.SetStake(ctx, tx, caller, staked, e.stamp()); err != nil {
		return domain.Account{}, err
	}
	if err := e.appendEvent(ctx, tx, events.StakeDeposited, "account", caller.Hex(), caller, events.EventPayload{
		"amount": amount.String(),
		"staked": staked.String(),
	}); err != nil {
		return domain.Account{}, err
	}
	acc, err := e.Repo.GetAccount(ctx, tx, caller)
	if err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	e.Metrics.Staked()
	return acc, nil
}

// Unstake returns the whole deposit to the caller once it is not pinned to
// any proposal that is still in progress. Commitments are only released by
// Finish, so an unresolved proposal keeps the deposit frozen indefinitely.
func (e Engine) Unstake(ctx context.Context, caller common.Address) (*big.Int, error) {
	if e.Token == nil {
		return nil, errors.New("token not configured")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	staked, err := e.Repo.StakeOf(ctx, tx, caller)
	if err != nil {
		return nil, err
	}
	if staked.Sign() == 0 {
		return nil, ErrNothingToUnstake
	}
	open, err := e.Repo.CommittedProposals(ctx, tx, caller)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("%w: committed to proposals %v", ErrTokensFrozen, open)
	}
	if err := e.Repo.SetStake(ctx, tx, caller, new(big.Int), e.stamp()); err != nil {
		return nil, err
	}
	if err := e.Token.Transfer(ctx, tx, caller, staked); err != nil {
		return nil, fmt.Errorf("unstake transfer: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.StakeWithdrawn, "account", caller.Hex(), caller, events.EventPayload{
		"amount": staked.String(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Metrics.Unstaked()
	return staked, nil
}

// GetDetails reports an account's stake and how many unresolved proposals
// it is committed to.
func (e Engine) GetDetails(ctx context.Context, account common.Address) (domain.Account, error) {
	return e.Repo.GetAccount(ctx, nil, account)
}
