package engine

import (
	"errors"
	"fmt"
)

// Governance failures. Each carries a stable message that callers and the
// HTTP layer match on.
var (
	ErrNoSuchVoting         = errors.New("no such voting")
	ErrNoDeposit            = errors.New("no deposit")
	ErrVotedAlready         = errors.New("voted already")
	ErrDelegateVotedAlready = errors.New("delegate voted already")
	ErrTokensFrozen         = errors.New("tokens are frozen")
	ErrHandledAlready       = errors.New("handled already")
	ErrVotingInProcess      = errors.New("voting is in process")
	ErrRecipientCall        = errors.New("recipient call error")

	ErrVotingClosed    = errors.New("voting period is over")
	ErrInvalidDelegate = errors.New("invalid delegate")
	ErrDelegationCycle = errors.New("delegation cycle")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidCall     = errors.New("invalid proposal call")
)

// ErrNothingToUnstake is returned by Unstake on an empty deposit. It also
// matches ErrNoDeposit.
var ErrNothingToUnstake = fmt.Errorf("nothing to unstake: %w", ErrNoDeposit)

func recipientCallError(err error) error {
	return fmt.Errorf("%w: %w", ErrRecipientCall, err)
}
