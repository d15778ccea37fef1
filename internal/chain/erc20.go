package chain

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/erc20"
)

// Token drives an on-chain ERC-20 from the custody account. The sql.Tx
// arguments are ignored; on-chain effects are not undone when the local
// transaction rolls back.
type Token struct {
	Client  *Client
	Address common.Address
}

func (t Token) TransferFrom(ctx context.Context, _ *sql.Tx, from, to common.Address, amount *big.Int) error {
	data, err := erc20.PackTransferFrom(from, to, amount)
	if err != nil {
		return err
	}
	return t.send(ctx, "transferFrom", data)
}

func (t Token) Transfer(ctx context.Context, _ *sql.Tx, to common.Address, amount *big.Int) error {
	data, err := erc20.PackTransfer(to, amount)
	if err != nil {
		return err
	}
	return t.send(ctx, "transfer", data)
}

func (t Token) BalanceOf(ctx context.Context, _ *sql.Tx, account common.Address) (*big.Int, error) {
	data, err := erc20.PackBalanceOf(account)
	if err != nil {
		return nil, err
	}
	out, err := t.Client.Call(ctx, t.Address, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return erc20.UnpackUint("balanceOf", out)
}

func (t Token) TotalSupply(ctx context.Context, _ *sql.Tx) (*big.Int, error) {
	data, err := erc20.PackTotalSupply()
	if err != nil {
		return nil, err
	}
	out, err := t.Client.Call(ctx, t.Address, data)
	if err != nil {
		return nil, fmt.Errorf("totalSupply: %w", err)
	}
	return erc20.UnpackUint("totalSupply", out)
}

// send simulates the call from custody first. A token that answers false
// instead of reverting fails the operation before anything is signed; empty
// return data counts as success.
func (t Token) send(ctx context.Context, method string, data []byte) error {
	out, err := t.Client.Call(ctx, t.Address, data)
	if err != nil {
		return fmt.Errorf("%s: simulate: %w", method, err)
	}
	ok, err := erc20.UnpackBool(method, out)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", method, ErrTransferFailed)
	}
	if _, err := t.Client.Send(ctx, t.Address, data); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Executor sends approved proposal calls from the custody account.
type Executor struct {
	Client *Client
}

func (x Executor) Execute(ctx context.Context, _ *sql.Tx, call domain.Call) error {
	if call.From != x.Client.From {
		return fmt.Errorf("custody %s is not controlled by key %s", call.From.Hex(), x.Client.From.Hex())
	}
	_, err := x.Client.Send(ctx, call.To, call.Data)
	return err
}
