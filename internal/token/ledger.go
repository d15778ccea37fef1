// Package token is a SQLite-backed ERC-20 style ledger used as the
// governance token when no chain is configured. Every method runs on the
// caller's transaction.
package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrNegativeAmount        = errors.New("negative amount")
)

// Ledger keeps balances and allowances of one token, keyed by its address.
type Ledger struct {
	Address common.Address
}

func (l Ledger) BalanceOf(ctx context.Context, tx *sql.Tx, account common.Address) (*big.Int, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT amount FROM token_balances WHERE token=? AND account=?`, l.Address.Hex(), account.Hex()).Scan(&raw)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

func (l Ledger) TotalSupply(ctx context.Context, tx *sql.Tx) (*big.Int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT amount FROM token_balances WHERE token=?`, l.Address.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	total := new(big.Int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := parse(raw)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, rows.Err()
}

func (l Ledger) Allowance(ctx context.Context, tx *sql.Tx, owner, spender common.Address) (*big.Int, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT amount FROM token_allowances WHERE token=? AND owner=? AND spender=?`,
		l.Address.Hex(), owner.Hex(), spender.Hex()).Scan(&raw)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

// Mint credits new tokens to an account. Development tooling only.
func (l Ledger) Mint(ctx context.Context, tx *sql.Tx, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := l.BalanceOf(ctx, tx, to)
	if err != nil {
		return err
	}
	return l.setBalance(ctx, tx, to, bal.Add(bal, amount))
}

func (l Ledger) Approve(ctx context.Context, tx *sql.Tx, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO token_allowances(token,owner,spender,amount) VALUES (?,?,?,?)
ON CONFLICT(token,owner,spender) DO UPDATE SET amount=excluded.amount`, l.Address.Hex(), owner.Hex(), spender.Hex(), amount.String())
	return err
}

// Transfer moves amount from sender to to.
func (l Ledger) Transfer(ctx context.Context, tx *sql.Tx, sender, to common.Address, amount *big.Int) error {
	if sender == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	from, err := l.BalanceOf(ctx, tx, sender)
	if err != nil {
		return err
	}
	if from.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, sender.Hex(), from, amount)
	}
	if err := l.setBalance(ctx, tx, sender, from.Sub(from, amount)); err != nil {
		return err
	}
	dst, err := l.BalanceOf(ctx, tx, to)
	if err != nil {
		return err
	}
	return l.setBalance(ctx, tx, to, dst.Add(dst, amount))
}

// TransferFrom moves amount from owner to to on behalf of spender, spending
// the allowance owner granted to spender.
func (l Ledger) TransferFrom(ctx context.Context, tx *sql.Tx, spender, owner, to common.Address, amount *big.Int) error {
	allowed, err := l.Allowance(ctx, tx, owner, spender)
	if err != nil {
		return err
	}
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allows %s %s, needs %s", ErrInsufficientAllowance, owner.Hex(), spender.Hex(), allowed, amount)
	}
	if err := l.Transfer(ctx, tx, owner, to, amount); err != nil {
		return err
	}
	return l.Approve(ctx, tx, owner, spender, allowed.Sub(allowed, amount))
}

func (l Ledger) setBalance(ctx context.Context, tx *sql.Tx, account common.Address, amount *big.Int) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO token_balances(token,account,amount) VALUES (?,?,?)
ON CONFLICT(token,account) DO UPDATE SET amount=excluded.amount`, l.Address.Hex(), account.Hex(), amount.String())
	return err
}

func parse(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored amount %q", raw)
	}
	return v, nil
}

// Session binds the ledger to the custody account so it satisfies the
// engine's Token interface.
type Session struct {
	Ledger  Ledger
	Custody common.Address
}

// TransferFrom pulls from an account into custody using custody's allowance.
func (s Session) TransferFrom(ctx context.Context, tx *sql.Tx, from, to common.Address, amount *big.Int) error {
	return s.Ledger.TransferFrom(ctx, tx, s.Custody, from, to, amount)
}

// Transfer pays out of custody.
func (s Session) Transfer(ctx context.Context, tx *sql.Tx, to common.Address, amount *big.Int) error {
	return s.Ledger.Transfer(ctx, tx, s.Custody, to, amount)
}

func (s Session) BalanceOf(ctx context.Context, tx *sql.Tx, account common.Address) (*big.Int, error) {
	return s.Ledger.BalanceOf(ctx, tx, account)
}

func (s Session) TotalSupply(ctx context.Context, tx *sql.Tx) (*big.Int, error) {
	return s.Ledger.TotalSupply(ctx, tx)
}
