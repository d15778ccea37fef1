package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/erc20"
)

// Executor runs approved proposal calls against the local ledgers. A call
// to an address without a ledger behaves like a call to an account with no
// code and succeeds without effect, as do view methods on a ledger. Calldata
// a ledger cannot decode fails, the way the token contract would revert.
type Executor struct {
	Ledgers map[common.Address]Ledger
}

func NewExecutor(ledgers ...Ledger) Executor {
	m := make(map[common.Address]Ledger, len(ledgers))
	for _, l := range ledgers {
		m[l.Address] = l
	}
	return Executor{Ledgers: m}
}

func (x Executor) Execute(ctx context.Context, tx *sql.Tx, call domain.Call) error {
	ledger, ok := x.Ledgers[call.To]
	if !ok {
		return nil
	}
	c, err := erc20.Decode(call.Data)
	if errors.Is(err, erc20.ErrReadOnly) {
		return nil
	}
	if err != nil {
		return err
	}
	switch c.Method {
	case "transfer":
		return ledger.Transfer(ctx, tx, call.From, c.To, c.Amount)
	case "transferFrom":
		return ledger.TransferFrom(ctx, tx, call.From, c.From, c.To, c.Amount)
	case "approve":
		return ledger.Approve(ctx, tx, call.From, c.Spender, c.Amount)
	default:
		return fmt.Errorf("unsupported method %s", c.Method)
	}
}

// Validate rejects calls that Execute could never run, so a proposal
// carrying one is refused up front instead of failing at every finish.
func (x Executor) Validate(call domain.Call) error {
	if _, ok := x.Ledgers[call.To]; !ok {
		return nil
	}
	if _, err := erc20.Decode(call.Data); err != nil && !errors.Is(err, erc20.ErrReadOnly) {
		return fmt.Errorf("token %s cannot run calldata: %w", call.To.Hex(), err)
	}
	return nil
}
