package repo

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
)

const proposalColumns = `id,creator,recipient,call_data,description,votes_for,votes_against,status,created_at,finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (domain.Proposal, error) {
	var (
		p                   domain.Proposal
		creator, recipient  string
		votesFor, votesAgst string
		status              int64
		createdAt           int64
		finishedAt          sql.NullInt64
		callData            []byte
	)
	err := row.Scan(&p.ID, &creator, &recipient, &callData, &p.Description, &votesFor, &votesAgst, &status, &createdAt, &finishedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CallData = append([]byte{}, callData...)
	p.Creator = common.HexToAddress(creator)
	p.Recipient = common.HexToAddress(recipient)
	p.Status = domain.Status(status)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		p.FinishedAt = &t
	}
	if p.VotesFor, err = parseAmount(votesFor); err != nil {
		return p, err
	}
	if p.VotesAgainst, err = parseAmount(votesAgst); err != nil {
		return p, err
	}
	return p, nil
}

// NextProposalID returns the id the next proposal will take. Ids start at 1.
func (r Repo) NextProposalID(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var id uint64
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0)+1 FROM proposals`).Scan(&id)
	return id, err
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	callData := []byte(p.CallData)
	if callData == nil {
		callData = []byte{}
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO proposals(id,creator,recipient,call_data,description,votes_for,votes_against,status,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Creator.Hex(), p.Recipient.Hex(), callData, p.Description, formatAmount(p.VotesFor), formatAmount(p.VotesAgainst), p.Status, p.CreatedAt.Unix())
	return err
}

func (r Repo) GetProposal(ctx context.Context, tx *sql.Tx, id uint64) (domain.Proposal, error) {
	return scanProposal(r.q(tx).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

// UpdateTally overwrites both vote totals of an in-progress proposal.
func (r Repo) UpdateTally(ctx context.Context, tx *sql.Tx, id uint64, votesFor, votesAgainst *big.Int) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE proposals SET votes_for=?, votes_against=? WHERE id=? AND status=?`,
		formatAmount(votesFor), formatAmount(votesAgainst), id, domain.StatusInProgress)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves an in-progress proposal to a final status.
func (r Repo) SetStatus(ctx context.Context, tx *sql.Tx, id uint64, status domain.Status, finishedAt time.Time) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE proposals SET status=?, finished_at=? WHERE id=? AND status=?`,
		status, finishedAt.Unix(), id, domain.StatusInProgress)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProposalFilter narrows ListProposals.
type ProposalFilter struct {
	Status  *domain.Status
	Creator *common.Address
	Limit   int
	AfterID uint64
}

func (r Repo) ListProposals(ctx context.Context, f ProposalFilter) ([]domain.Proposal, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != nil {
		clauses = append(clauses, "status=?")
		args = append(args, *f.Status)
	}
	if f.Creator != nil {
		clauses = append(clauses, "creator=?")
		args = append(args, f.Creator.Hex())
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	query := fmt.Sprintf(`SELECT %s FROM proposals WHERE %s ORDER BY id ASC`, proposalColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
