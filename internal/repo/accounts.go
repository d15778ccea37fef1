package repo

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
)

// GetAccount returns the staking record of an address. Unknown addresses
// come back with a zero stake rather than ErrNotFound.
func (r Repo) GetAccount(ctx context.Context, tx *sql.Tx, addr common.Address) (domain.Account, error) {
	acc := domain.Account{Address: addr, Staked: new(big.Int)}
	var staked string
	err := r.q(tx).QueryRowContext(ctx, `SELECT staked FROM accounts WHERE address=?`, addr.Hex()).Scan(&staked)
	if err != nil && err != sql.ErrNoRows {
		return acc, err
	}
	if err == nil {
		if acc.Staked, err = parseAmount(staked); err != nil {
			return acc, err
		}
	}
	open, err := r.OpenCommitmentCount(ctx, tx, addr)
	if err != nil {
		return acc, err
	}
	acc.OpenCommitments = open
	return acc, nil
}

// StakeOf returns the staked amount only.
func (r Repo) StakeOf(ctx context.Context, tx *sql.Tx, addr common.Address) (*big.Int, error) {
	var staked string
	err := r.q(tx).QueryRowContext(ctx, `SELECT staked FROM accounts WHERE address=?`, addr.Hex()).Scan(&staked)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(staked)
}

func (r Repo) SetStake(ctx context.Context, tx *sql.Tx, addr common.Address, amount *big.Int, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO accounts(address,staked,updated_at) VALUES (?,?,?)
ON CONFLICT(address) DO UPDATE SET staked=excluded.staked, updated_at=excluded.updated_at`, addr.Hex(), formatAmount(amount), now)
	return err
}

// TotalStaked sums every recorded stake.
func (r Repo) TotalStaked(ctx context.Context, tx *sql.Tx) (*big.Int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT staked FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	total := new(big.Int)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, rows.Err()
}

func (r Repo) AddCommitment(ctx context.Context, tx *sql.Tx, addr common.Address, proposalID uint64) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO commitments(account,proposal_id) VALUES (?,?)`, addr.Hex(), proposalID)
	return err
}

// ClearCommitments drops every commitment pinned to a proposal.
func (r Repo) ClearCommitments(ctx context.Context, tx *sql.Tx, proposalID uint64) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM commitments WHERE proposal_id=?`, proposalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OpenCommitmentCount counts commitments to proposals that are still in progress.
func (r Repo) OpenCommitmentCount(ctx context.Context, tx *sql.Tx, addr common.Address) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `
SELECT COUNT(*) FROM commitments c
JOIN proposals p ON p.id=c.proposal_id
WHERE c.account=? AND p.status=?`, addr.Hex(), domain.StatusInProgress).Scan(&n)
	return n, err
}

// CommittedProposals lists the in-progress proposals an account is pinned to.
func (r Repo) CommittedProposals(ctx context.Context, tx *sql.Tx, addr common.Address) ([]uint64, error) {
	rows, err := r.q(tx).QueryContext(ctx, `
SELECT c.proposal_id FROM commitments c
JOIN proposals p ON p.id=c.proposal_id
WHERE c.account=? AND p.status=? ORDER BY c.proposal_id`, addr.Hex(), domain.StatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
