package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Permissions checked by the governance engine.
const (
	PermProposalCreate = "proposal.create"
	PermConfigure      = "dao.configure"
	PermRBACManage     = "rbac.manage"
)

// KnownPermissions describes every permission the engine checks.
var KnownPermissions = map[string]string{
	PermProposalCreate: "Register a new proposal",
	PermConfigure:      "Change voting duration, quorum and reference supply",
	PermRBACManage:     "Grant and revoke roles",
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL. Actor ids are checksummed
// account addresses.
type Service struct {
	DB *sql.DB
}

func ActorID(addr common.Address) string { return addr.Hex() }

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actor common.Address) error {
	if actor == (common.Address{}) {
		return errors.New("actor address required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, ActorID(actor), now)
	return err
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, actor common.Address, perm string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		ActorID(actor), perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Authorize returns ForbiddenError when the actor lacks perm.
func (s Service) Authorize(ctx context.Context, tx *sql.Tx, actor common.Address, perm string) error {
	ok, err := s.ActorHasPermission(ctx, tx, actor, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

func (s Service) ActorRoles(ctx context.Context, tx *sql.Tx, actor common.Address) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, ActorID(actor))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, actor common.Address) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? ORDER BY rp.permission_id`, ActorID(actor))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
