package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/config"
	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/engine/auth"
	"github.com/stheg/dao-market-referrals-program/internal/events"
	"github.com/stheg/dao-market-referrals-program/internal/logging"
	"github.com/stheg/dao-market-referrals-program/internal/metrics"
	"github.com/stheg/dao-market-referrals-program/internal/repo"
)

// Token moves the governance token in and out of custody. Implementations
// bound to the local ledger share tx, so a rolled back operation also rolls
// back its transfers.
type Token interface {
	TransferFrom(ctx context.Context, tx *sql.Tx, from, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, tx *sql.Tx, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, tx *sql.Tx, account common.Address) (*big.Int, error)
}

// SupplyReader is implemented by tokens that know their total supply.
type SupplyReader interface {
	TotalSupply(ctx context.Context, tx *sql.Tx) (*big.Int, error)
}

// Executor performs the call attached to an approved proposal.
type Executor interface {
	Execute(ctx context.Context, tx *sql.Tx, call domain.Call) error
}

// CallValidator is implemented by executors that can tell ahead of time
// that a call will never succeed.
type CallValidator interface {
	Validate(call domain.Call) error
}

// Authorizer gates proposal registration and configuration.
type Authorizer interface {
	Authorize(ctx context.Context, tx *sql.Tx, actor common.Address, permission string) error
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Token    Token
	Executor Executor
	Auth     Authorizer
	Metrics  *metrics.Prometheus
	Log      *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, token Token, exec Executor) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Token:    token,
		Executor: exec,
		Auth:     auth.Service{DB: db},
		Log:      logging.Discard(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Discard()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, actor common.Address, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, entityKind, entityID, actor.Hex(), payload)
}

func (e Engine) authorize(ctx context.Context, tx *sql.Tx, actor common.Address, perm string) error {
	if e.Auth == nil {
		return errors.New("authorizer not configured")
	}
	return e.Auth.Authorize(ctx, tx, actor, perm)
}

// Init seeds governance parameters and roles from the loaded config. It is
// safe to call repeatedly: existing parameters are kept and roles are
// re-synchronised with the file.
func (e Engine) Init(ctx context.Context, actor common.Address) (domain.Params, error) {
	if e.Config == nil {
		return domain.Params{}, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Params{}, err
	}
	defer tx.Rollback()

	params, err := e.Repo.GetParams(ctx, tx)
	created := false
	if errors.Is(err, repo.ErrNotFound) {
		params = domain.Params{
			Custody:          e.Config.CustodyAddress(),
			VotingDuration:   e.Config.Voting.Duration,
			MinQuorumPercent: e.Config.Voting.MinQuorumPercent,
			ReferenceSupply:  e.Config.ReferenceSupplyInt(),
			UpdatedAt:        e.stamp(),
		}
		if err := e.Repo.UpsertParams(ctx, tx, params); err != nil {
			return domain.Params{}, fmt.Errorf("seed params: %w", err)
		}
		created = true
	} else if err != nil {
		return domain.Params{}, err
	}
	if err := e.syncRoles(ctx, tx); err != nil {
		return domain.Params{}, err
	}
	chair := e.Config.ChairpersonAddress()
	if err := e.Repo.EnsureActor(ctx, tx, auth.ActorID(chair), e.stamp()); err != nil {
		return domain.Params{}, fmt.Errorf("ensure chairperson: %w", err)
	}
	if err := e.Repo.AssignRole(ctx, tx, auth.ActorID(chair), config.RoleChairperson); err != nil {
		return domain.Params{}, fmt.Errorf("assign chairperson: %w", err)
	}
	if created {
		if err := e.appendEvent(ctx, tx, events.DAOInitialized, "dao", "", actor, events.EventPayload{
			"custody":     params.Custody.Hex(),
			"chairperson": chair.Hex(),
		}); err != nil {
			return domain.Params{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Params{}, err
	}
	return params, nil
}

func (e Engine) syncRoles(ctx context.Context, tx *sql.Tx) error {
	for id, desc := range auth.KnownPermissions {
		if err := e.Repo.InsertPermission(ctx, tx, id, desc); err != nil {
			return fmt.Errorf("insert permission %s: %w", id, err)
		}
	}
	roleIDs := make([]string, 0, len(e.Config.RBAC.Roles))
	for id := range e.Config.RBAC.Roles {
		roleIDs = append(roleIDs, id)
	}
	sort.Strings(roleIDs)
	for _, id := range roleIDs {
		role := e.Config.RBAC.Roles[id]
		if err := e.Repo.InsertRole(ctx, tx, id, role.Description); err != nil {
			return fmt.Errorf("insert role %s: %w", id, err)
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return fmt.Errorf("insert permission %s: %w", perm, err)
			}
			if err := e.Repo.AddRolePermission(ctx, tx, id, perm); err != nil {
				return fmt.Errorf("grant %s to role %s: %w", perm, id, err)
			}
		}
	}
	return nil
}

// Params returns the stored governance parameters.
func (e Engine) Params(ctx context.Context) (domain.Params, error) {
	return e.Repo.GetParams(ctx, nil)
}

// SetVotingDuration changes the voting window. It applies to proposals that
// are still in progress as well, since deadlines are derived at finish time.
func (e Engine) SetVotingDuration(ctx context.Context, caller common.Address, d time.Duration) (domain.Params, error) {
	if d < time.Second {
		return domain.Params{}, fmt.Errorf("voting duration must be at least 1s, got %s", d)
	}
	return e.updateParams(ctx, caller, "voting_duration", func(p *domain.Params) {
		p.VotingDuration = d.Truncate(time.Second)
	})
}

// SetMinQuorum changes the minimum turnout, as a percentage of the reference supply.
func (e Engine) SetMinQuorum(ctx context.Context, caller common.Address, percent uint64) (domain.Params, error) {
	if percent > 100 {
		return domain.Params{}, fmt.Errorf("quorum percent must be within 0..100, got %d", percent)
	}
	return e.updateParams(ctx, caller, "min_quorum_percent", func(p *domain.Params) {
		p.MinQuorumPercent = percent
	})
}

// SetReferenceSupply fixes the supply quorum is measured against. Zero
// means the token's total supply.
func (e Engine) SetReferenceSupply(ctx context.Context, caller common.Address, supply *big.Int) (domain.Params, error) {
	if supply == nil || supply.Sign() < 0 {
		return domain.Params{}, errors.New("reference supply must not be negative")
	}
	return e.updateParams(ctx, caller, "reference_supply", func(p *domain.Params) {
		p.ReferenceSupply = new(big.Int).Set(supply)
	})
}

func (e Engine) updateParams(ctx context.Context, caller common.Address, field string, mutate func(*domain.Params)) (domain.Params, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Params{}, err
	}
	defer tx.Rollback()
	if err := e.authorize(ctx, tx, caller, auth.PermConfigure); err != nil {
		return domain.Params{}, err
	}
	params, err := e.Repo.GetParams(ctx, tx)
	if err != nil {
		return domain.Params{}, err
	}
	mutate(&params)
	params.UpdatedAt = e.stamp()
	if err := e.Repo.UpsertParams(ctx, tx, params); err != nil {
		return domain.Params{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ParamsUpdated, "dao", "", caller, events.EventPayload{
		"field":              field,
		"voting_duration":    params.VotingDuration.String(),
		"min_quorum_percent": params.MinQuorumPercent,
		"reference_supply":   params.ReferenceSupply.String(),
	}); err != nil {
		return domain.Params{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Params{}, err
	}
	return params, nil
}

// GrantRole assigns a configured role to an account.
func (e Engine) GrantRole(ctx context.Context, caller, actor common.Address, roleID string) error {
	return e.changeRole(ctx, caller, actor, roleID, true)
}

// RevokeRole removes a role from an account.
func (e Engine) RevokeRole(ctx context.Context, caller, actor common.Address, roleID string) error {
	return e.changeRole(ctx, caller, actor, roleID, false)
}

func (e Engine) changeRole(ctx context.Context, caller, actor common.Address, roleID string, grant bool) error {
	if actor == (common.Address{}) {
		return errors.New("actor address required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.authorize(ctx, tx, caller, auth.PermRBACManage); err != nil {
		return err
	}
	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, repo.ErrNotFound)
	}
	evtType := events.RoleGranted
	if grant {
		if err := e.Repo.EnsureActor(ctx, tx, auth.ActorID(actor), e.stamp()); err != nil {
			return err
		}
		err = e.Repo.AssignRole(ctx, tx, auth.ActorID(actor), roleID)
	} else {
		evtType = events.RoleRevoked
		err = e.Repo.RevokeRole(ctx, tx, auth.ActorID(actor), roleID)
	}
	if err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, evtType, "actor", auth.ActorID(actor), caller, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Roles returns the roles and permissions held by an account.
func (e Engine) Roles(ctx context.Context, actor common.Address) (roles, perms []string, err error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()
	svc := auth.Service{DB: e.DB}
	if roles, err = svc.ActorRoles(ctx, tx, actor); err != nil {
		return nil, nil, err
	}
	if perms, err = svc.ActorPermissions(ctx, tx, actor); err != nil {
		return nil, nil, err
	}
	return roles, perms, nil
}
