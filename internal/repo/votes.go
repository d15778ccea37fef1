package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
)

func (r Repo) InsertVote(ctx context.Context, tx *sql.Tx, v domain.Vote) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO votes(proposal_id,voter,support,weight,cast_at) VALUES (?,?,?,?,?)`,
		v.ProposalID, v.Voter.Hex(), v.Support, formatAmount(v.Weight), v.CastAt.Unix())
	return err
}

// GetVote returns ErrNotFound when the account has not voted directly.
func (r Repo) GetVote(ctx context.Context, tx *sql.Tx, proposalID uint64, voter common.Address) (domain.Vote, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT proposal_id,voter,support,weight,cast_at FROM votes WHERE proposal_id=? AND voter=?`, proposalID, voter.Hex())
	return scanVote(row)
}

func (r Repo) ListVotes(ctx context.Context, proposalID uint64) ([]domain.Vote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT proposal_id,voter,support,weight,cast_at FROM votes WHERE proposal_id=? ORDER BY cast_at ASC, voter ASC`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func scanVote(row rowScanner) (domain.Vote, error) {
	var (
		v      domain.Vote
		voter  string
		weight string
		castAt int64
	)
	err := row.Scan(&v.ProposalID, &voter, &v.Support, &weight, &castAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Voter = common.HexToAddress(voter)
	v.CastAt = time.Unix(castAt, 0).UTC()
	v.Weight, err = parseAmount(weight)
	return v, err
}

func (r Repo) InsertDelegation(ctx context.Context, tx *sql.Tx, d domain.Delegation) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO delegations(proposal_id,delegator,delegate,created_at) VALUES (?,?,?,?)`,
		d.ProposalID, d.Delegator.Hex(), d.Delegate.Hex(), d.CreatedAt.Unix())
	return err
}

// GetDelegation returns the outgoing edge of an account, or ErrNotFound.
func (r Repo) GetDelegation(ctx context.Context, tx *sql.Tx, proposalID uint64, delegator common.Address) (domain.Delegation, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT proposal_id,delegator,delegate,weight,counted_by,created_at FROM delegations WHERE proposal_id=? AND delegator=?`,
		proposalID, delegator.Hex())
	return scanDelegation(row)
}

// DelegatorsOf lists the accounts whose edge points directly at delegate.
func (r Repo) DelegatorsOf(ctx context.Context, tx *sql.Tx, proposalID uint64, delegate common.Address) ([]common.Address, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT delegator FROM delegations WHERE proposal_id=? AND delegate=? ORDER BY delegator`, proposalID, delegate.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []common.Address
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		res = append(res, common.HexToAddress(a))
	}
	return res, rows.Err()
}

// MarkDelegationCounted records the weight an edge contributed and the voter
// that absorbed it.
func (r Repo) MarkDelegationCounted(ctx context.Context, tx *sql.Tx, proposalID uint64, delegator, voter common.Address, weight string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE delegations SET weight=?, counted_by=? WHERE proposal_id=? AND delegator=? AND counted_by IS NULL`,
		weight, voter.Hex(), proposalID, delegator.Hex())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListDelegations(ctx context.Context, proposalID uint64) ([]domain.Delegation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT proposal_id,delegator,delegate,weight,counted_by,created_at FROM delegations WHERE proposal_id=? ORDER BY created_at ASC, delegator ASC`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func scanDelegation(row rowScanner) (domain.Delegation, error) {
	var (
		d                   domain.Delegation
		delegator, delegate string
		weight, countedBy   sql.NullString
		createdAt           int64
	)
	err := row.Scan(&d.ProposalID, &delegator, &delegate, &weight, &countedBy, &createdAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Delegator = common.HexToAddress(delegator)
	d.Delegate = common.HexToAddress(delegate)
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	if weight.Valid {
		if d.Weight, err = parseAmount(weight.String); err != nil {
			return d, err
		}
	}
	if countedBy.Valid {
		a := common.HexToAddress(countedBy.String)
		d.CountedBy = &a
	}
	return d, nil
}
