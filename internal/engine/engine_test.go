package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stheg/dao-market-referrals-program/internal/config"
	"github.com/stheg/dao-market-referrals-program/internal/db"
	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/engine"
	"github.com/stheg/dao-market-referrals-program/internal/engine/auth"
	"github.com/stheg/dao-market-referrals-program/internal/erc20"
	"github.com/stheg/dao-market-referrals-program/internal/events"
	"github.com/stheg/dao-market-referrals-program/internal/migrate"
	"github.com/stheg/dao-market-referrals-program/internal/token"
)

var (
	chair    = common.HexToAddress("0x00000000000000000000000000000000000c4a17")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	dave     = common.HexToAddress("0x000000000000000000000000000000000000da7e")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000005714")
)

const week = 7 * 24 * time.Hour

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Ledger token.Ledger
	Config *config.Config
	clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(chair)
	cfg.Voting.Duration = week
	cfg.Voting.MinQuorumPercent = 20
	cfg.Voting.ReferenceSupply = "2000"
	ledger := token.Ledger{Address: cfg.TokenAddress()}
	eng := engine.New(conn, cfg, token.Session{Ledger: ledger, Custody: cfg.CustodyAddress()}, token.NewExecutor(ledger))
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := testEnv{Engine: eng, Ctx: context.Background(), Ledger: ledger, Config: cfg, clock: &clock}
	env.Engine.Now = func() time.Time { return *env.clock }
	if _, err := env.Engine.Init(env.Ctx, chair); err != nil {
		t.Fatalf("init: %v", err)
	}
	return env
}

func (env testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

func (env testEnv) fund(t *testing.T, who common.Address, amount int64) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	custody := env.Config.CustodyAddress()
	if err := env.Ledger.Mint(env.Ctx, tx, who, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	allowed, err := env.Ledger.Allowance(env.Ctx, tx, who, custody)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Ledger.Approve(env.Ctx, tx, who, custody, allowed.Add(allowed, big.NewInt(amount))); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (env testEnv) balance(t *testing.T, who common.Address) int64 {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	b, err := env.Ledger.BalanceOf(env.Ctx, tx, who)
	if err != nil {
		t.Fatal(err)
	}
	return b.Int64()
}

func (env testEnv) stake(t *testing.T, who common.Address, amount int64) {
	t.Helper()
	env.fund(t, who, amount)
	if _, err := env.Engine.Stake(env.Ctx, who, big.NewInt(amount)); err != nil {
		t.Fatalf("stake %s: %v", who.Hex(), err)
	}
}

func (env testEnv) propose(t *testing.T, data []byte) uint64 {
	t.Helper()
	if data == nil {
		var err error
		data, err = erc20.PackApprove(chair, big.NewInt(0))
		if err != nil {
			t.Fatal(err)
		}
	}
	p, err := env.Engine.AddProposal(env.Ctx, chair, engine.ProposalCreateOptions{
		Recipient:   env.Config.TokenAddress(),
		CallData:    data,
		Description: "test proposal",
	})
	if err != nil {
		t.Fatalf("add proposal: %v", err)
	}
	return p.ID
}

func (env testEnv) proposal(t *testing.T, id uint64) domain.Proposal {
	t.Helper()
	p, err := env.Engine.GetProposal(env.Ctx, id)
	if err != nil {
		t.Fatalf("get proposal %d: %v", id, err)
	}
	return p
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func TestApprovedAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	id := env.propose(t, nil)
	if id != 1 {
		t.Fatalf("first proposal id = %d, want 1", id)
	}
	if _, err := env.Engine.Vote(env.Ctx, alice, id, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	env.advance(week - time.Second)
	_, err := env.Engine.Finish(env.Ctx, bob, id)
	expectErr(t, err, engine.ErrVotingInProcess)

	env.advance(time.Second)
	p, err := env.Engine.Finish(env.Ctx, bob, id)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if p.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", p.Status)
	}
	if got := env.proposal(t, id); got.Status != domain.StatusApproved || got.FinishedAt == nil {
		t.Fatalf("stored proposal not approved: %+v", got)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, events.ProposalFinished, "proposal", "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one finish event, got %d", len(evts))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(evts[0].Payload), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["status"] != "approved" || payload["status_code"] != float64(1) {
		t.Fatalf("unexpected finish payload: %v", payload)
	}
}

func TestDelegatedWeightFoldsIntoVote(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	env.stake(t, bob, 1000)
	id := env.propose(t, nil)

	if _, err := env.Engine.Delegate(env.Ctx, bob, alice, id); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	v, err := env.Engine.Vote(env.Ctx, alice, id, true)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if v.Weight.Int64() != 2000 {
		t.Fatalf("vote weight = %s, want 2000", v.Weight)
	}
	if p := env.proposal(t, id); p.VotesFor.Int64() != 2000 || p.VotesAgainst.Sign() != 0 {
		t.Fatalf("tally = %s/%s, want 2000/0", p.VotesFor, p.VotesAgainst)
	}
	ds, err := env.Engine.ListDelegations(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Weight == nil || ds[0].Weight.Int64() != 1000 || ds[0].CountedBy == nil || *ds[0].CountedBy != alice {
		t.Fatalf("delegation not marked counted: %+v", ds)
	}
	bobDetails, err := env.Engine.GetDetails(env.Ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if bobDetails.OpenCommitments != 1 {
		t.Fatalf("delegator commitments = %d, want 1", bobDetails.OpenCommitments)
	}
}

func TestUnstakeFrozenUntilFinish(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	id := env.propose(t, nil)
	if _, err := env.Engine.Vote(env.Ctx, alice, id, true); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Unstake(env.Ctx, alice)
	expectErr(t, err, engine.ErrTokensFrozen)

	env.advance(week)
	if _, err := env.Engine.Finish(env.Ctx, chair, id); err != nil {
		t.Fatalf("finish: %v", err)
	}
	amount, err := env.Engine.Unstake(env.Ctx, alice)
	if err != nil {
		t.Fatalf("unstake after finish: %v", err)
	}
	if amount.Int64() != 1000 {
		t.Fatalf("unstaked %s, want 1000", amount)
	}
	if got := env.balance(t, alice); got != 1000 {
		t.Fatalf("alice balance = %d, want 1000", got)
	}
	acc, err := env.Engine.GetDetails(env.Ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Staked.Sign() != 0 || acc.OpenCommitments != 0 {
		t.Fatalf("details after unstake = %+v", acc)
	}
}

func TestFrozenIndefinitelyWithoutFinish(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	id := env.propose(t, nil)
	if _, err := env.Engine.Delegate(env.Ctx, alice, bob, id); err != nil {
		t.Fatal(err)
	}
	// long past the deadline the deposit stays pinned until somebody finishes
	env.advance(10 * week)
	_, err := env.Engine.Unstake(env.Ctx, alice)
	expectErr(t, err, engine.ErrTokensFrozen)
	acc, err := env.Engine.GetDetails(env.Ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if acc.OpenCommitments != 1 {
		t.Fatalf("open commitments = %d, want 1", acc.OpenCommitments)
	}

	p, err := env.Engine.Finish(env.Ctx, stranger, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}
	if _, err := env.Engine.Unstake(env.Ctx, alice); err != nil {
		t.Fatalf("unstake after finish: %v", err)
	}
}

func TestDelegateToVoterFails(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	env.stake(t, bob, 500)
	id := env.propose(t, nil)
	if _, err := env.Engine.Vote(env.Ctx, alice, id, false); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Delegate(env.Ctx, bob, alice, id)
	expectErr(t, err, engine.ErrDelegateVotedAlready)

	// the rejected delegation must not consume bob's right
	if _, err := env.Engine.Vote(env.Ctx, bob, id, true); err != nil {
		t.Fatalf("bob vote: %v", err)
	}
}

func TestDelegateThroughChainToVoterFails(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 100)
	env.stake(t, bob, 100)
	env.stake(t, carol, 100)
	id := env.propose(t, nil)
	if _, err := env.Engine.Delegate(env.Ctx, alice, bob, id); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Vote(env.Ctx, bob, id, true); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Delegate(env.Ctx, carol, alice, id)
	expectErr(t, err, engine.ErrDelegateVotedAlready)
}

func TestFinishTwiceHandledAlready(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	id := env.propose(t, nil)
	if _, err := env.Engine.Vote(env.Ctx, alice, id, false); err != nil {
		t.Fatal(err)
	}
	env.advance(week)
	p, err := env.Engine.Finish(env.Ctx, chair, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want rejected", p.Status)
	}
	_, err = env.Engine.Finish(env.Ctx, chair, id)
	expectErr(t, err, engine.ErrHandledAlready)
	if got := env.proposal(t, id); got.Status != domain.StatusRejected {
		t.Fatalf("status changed on second finish: %s", got.Status)
	}
}

func TestNoSuchVoting(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 10)
	env.propose(t, nil)

	for _, id := range []uint64{0, 2, 99} {
		_, err := env.Engine.GetProposal(env.Ctx, id)
		expectErr(t, err, engine.ErrNoSuchVoting)
		_, err = env.Engine.Vote(env.Ctx, alice, id, true)
		expectErr(t, err, engine.ErrNoSuchVoting)
		_, err = env.Engine.Delegate(env.Ctx, alice, bob, id)
		expectErr(t, err, engine.ErrNoSuchVoting)
		_, err = env.Engine.Finish(env.Ctx, alice, id)
		expectErr(t, err, engine.ErrNoSuchVoting)
	}
}

func TestNoDeposit(t *testing.T) {
	env := newTestEnv(t)
	id := env.propose(t, nil)

	_, err := env.Engine.Vote(env.Ctx, alice, id, true)
	expectErr(t, err, engine.ErrNoDeposit)
	_, err = env.Engine.Delegate(env.Ctx, alice, bob, id)
	expectErr(t, err, engine.ErrNoDeposit)

	_, err = env.Engine.Unstake(env.Ctx, alice)
	expectErr(t, err, engine.ErrNothingToUnstake)
	expectErr(t, err, engine.ErrNoDeposit)
}

func TestSecondDispositionFails(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 10)
	env.stake(t, bob, 10)
	env.stake(t, carol, 10)
	id := env.propose(t, nil)

	if _, err := env.Engine.Vote(env.Ctx, alice, id, true); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Vote(env.Ctx, alice, id, false)
	expectErr(t, err, engine.ErrVotedAlready)
	_, err = env.Engine.Delegate(env.Ctx, alice, bob, id)
	expectErr(t, err, engine.ErrVotedAlready)

	if _, err := env.Engine.Delegate(env.Ctx, bob, carol, id); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Delegate(env.Ctx, bob, dave, id)
	expectErr(t, err, engine.ErrVotedAlready)
	_, err = env.Engine.Vote(env.Ctx, bob, id, true)
	expectErr(t, err, engine.ErrVotedAlready)

	// a second proposal is a fresh voting right
	id2 := env.propose(t, nil)
	if _, err := env.Engine.Vote(env.Ctx, bob, id2, true); err != nil {
		t.Fatalf("vote on second proposal: %v", err)
	}
}

func TestDelegationChainCountsEachAccountOnce(t *testing.T) {
	env := newTestEnv(t)
	stakes := map[common.Address]int64{alice: 100, bob: 200, carol: 400, dave: 800}
	for who, amount := range stakes {
		env.stake(t, who, amount)
	}
	id := env.propose(t, nil)

	// alice -> bob -> carol <- dave
	for _, edge := range [][2]common.Address{{alice, bob}, {bob, carol}, {dave, carol}} {
		if _, err := env.Engine.Delegate(env.Ctx, edge[0], edge[1], id); err != nil {
			t.Fatalf("delegate %s -> %s: %v", edge[0].Hex(), edge[1].Hex(), err)
		}
	}
	// stake read at vote time, not at delegation time
	env.stake(t, alice, 1000)

	v, err := env.Engine.Vote(env.Ctx, carol, id, false)
	if err != nil {
		t.Fatal(err)
	}
	want := int64(1100 + 200 + 400 + 800)
	if v.Weight.Int64() != want {
		t.Fatalf("weight = %s, want %d", v.Weight, want)
	}
	p := env.proposal(t, id)
	if p.VotesAgainst.Int64() != want || p.VotesFor.Sign() != 0 {
		t.Fatalf("tally = %s/%s", p.VotesFor, p.VotesAgainst)
	}
	votes, err := env.Engine.ListVotes(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(votes) != 1 {
		t.Fatalf("votes = %d, want 1", len(votes))
	}
	ds, err := env.Engine.ListDelegations(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	counted := new(big.Int)
	for _, d := range ds {
		if d.CountedBy == nil || *d.CountedBy != carol {
			t.Fatalf("edge %s not counted by carol", d.Delegator.Hex())
		}
		counted.Add(counted, d.Weight)
	}
	if counted.Int64() != want-400 {
		t.Fatalf("delegated weight = %s, want %d", counted, want-400)
	}
}

func TestDelegationRejectsSelfAndCycles(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 10)
	env.stake(t, bob, 10)
	env.stake(t, carol, 10)
	id := env.propose(t, nil)

	_, err := env.Engine.Delegate(env.Ctx, alice, alice, id)
	expectErr(t, err, engine.ErrInvalidDelegate)
	_, err = env.Engine.Delegate(env.Ctx, alice, common.Address{}, id)
	expectErr(t, err, engine.ErrInvalidDelegate)

	if _, err := env.Engine.Delegate(env.Ctx, alice, bob, id); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Delegate(env.Ctx, bob, carol, id); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Delegate(env.Ctx, carol, alice, id)
	expectErr(t, err, engine.ErrDelegationCycle)
}

func TestQuorumAndMajority(t *testing.T) {
	tests := []struct {
		name     string
		forVotes int64
		against  int64
		want     domain.Status
	}{
		{name: "below quorum", forVotes: 300, against: 99, want: domain.StatusCancelled},
		{name: "exactly quorum approved", forVotes: 400, against: 0, want: domain.StatusApproved},
		{name: "tie rejected", forVotes: 500, against: 500, want: domain.StatusRejected},
		{name: "majority against", forVotes: 200, against: 600, want: domain.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			id := env.propose(t, nil)
			if tt.forVotes > 0 {
				env.stake(t, alice, tt.forVotes)
				if _, err := env.Engine.Vote(env.Ctx, alice, id, true); err != nil {
					t.Fatal(err)
				}
			}
			if tt.against > 0 {
				env.stake(t, bob, tt.against)
				if _, err := env.Engine.Vote(env.Ctx, bob, id, false); err != nil {
					t.Fatal(err)
				}
			}
			env.advance(week)
			p, err := env.Engine.Finish(env.Ctx, chair, id)
			if err != nil {
				t.Fatal(err)
			}
			if p.Status != tt.want {
				t.Fatalf("status = %s, want %s", p.Status, tt.want)
			}
			again := engine.Classify(p.VotesFor, p.VotesAgainst, 20, big.NewInt(2000))
			if again != tt.want {
				t.Fatalf("classify = %s, want %s", again, tt.want)
			}
		})
	}
}

func TestReferenceSupplyFallsBackToTotalSupply(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetReferenceSupply(env.Ctx, chair, big.NewInt(0)); err != nil {
		t.Fatal(err)
	}
	env.fund(t, dave, 9000)
	env.stake(t, alice, 1000)
	id := env.propose(t, nil)
	if _, err := env.Engine.Vote(env.Ctx, alice, id, true); err != nil {
		t.Fatal(err)
	}
	env.advance(week)
	// 20% of a 10000 supply is 2000, so 1000 misses quorum
	p, err := env.Engine.Finish(env.Ctx, chair, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}
}

func TestRecipientCallErrorRollsBack(t *testing.T) {
	env := newTestEnv(t)
	custody := env.Config.CustodyAddress()
	data, err := erc20.PackTransferFrom(custody, chair, big.NewInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	env.stake(t, alice, 1000)
	id := env.propose(t, data)
	if _, err := env.Engine.Vote(env.Ctx, alice, id, true); err != nil {
		t.Fatal(err)
	}
	env.advance(week)

	_, err = env.Engine.Finish(env.Ctx, chair, id)
	expectErr(t, err, engine.ErrRecipientCall)
	expectErr(t, err, token.ErrInsufficientAllowance)

	if p := env.proposal(t, id); p.Status != domain.StatusInProgress || p.FinishedAt != nil {
		t.Fatalf("proposal changed after failed call: %+v", p)
	}
	acc, err := env.Engine.GetDetails(env.Ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if acc.OpenCommitments != 1 {
		t.Fatalf("commitments cleared by failed finish: %d", acc.OpenCommitments)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, events.ProposalFinished, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("failed finish emitted %d events", len(evts))
	}

	// fix the precondition and retry
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Ledger.Approve(env.Ctx, tx, custody, custody, big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.Finish(env.Ctx, chair, id)
	if err != nil {
		t.Fatalf("retry finish: %v", err)
	}
	if p.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", p.Status)
	}
	if got := env.balance(t, chair); got != 1000 {
		t.Fatalf("chair balance = %d, want 1000", got)
	}
}

func TestVotingClosedAndFinishedProposals(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	env.stake(t, bob, 10)
	id := env.propose(t, nil)
	env.advance(week)

	_, err := env.Engine.Vote(env.Ctx, alice, id, true)
	expectErr(t, err, engine.ErrVotingClosed)
	_, err = env.Engine.Delegate(env.Ctx, alice, bob, id)
	expectErr(t, err, engine.ErrVotingClosed)

	if _, err := env.Engine.Finish(env.Ctx, chair, id); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Vote(env.Ctx, alice, id, true)
	expectErr(t, err, engine.ErrHandledAlready)
}

func TestStakeRollsBackOnTokenFailure(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Ledger.Mint(env.Ctx, tx, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.Stake(env.Ctx, alice, big.NewInt(100))
	expectErr(t, err, token.ErrInsufficientAllowance)
	_, err = env.Engine.Stake(env.Ctx, alice, big.NewInt(0))
	expectErr(t, err, engine.ErrInvalidAmount)

	acc, err := env.Engine.GetDetails(env.Ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Staked.Sign() != 0 {
		t.Fatalf("stake recorded despite failed transfer: %s", acc.Staked)
	}
	if got := env.balance(t, alice); got != 100 {
		t.Fatalf("alice balance = %d, want 100", got)
	}
}

func TestStakeAccumulates(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 300)
	env.stake(t, alice, 200)
	acc, err := env.Engine.GetDetails(env.Ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Staked.Int64() != 500 {
		t.Fatalf("staked = %s, want 500", acc.Staked)
	}
	if got := env.balance(t, env.Config.CustodyAddress()); got != 500 {
		t.Fatalf("custody balance = %d, want 500", got)
	}
}

func TestAddProposalRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AddProposal(env.Ctx, stranger, engine.ProposalCreateOptions{Recipient: bob})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != auth.PermProposalCreate {
		t.Fatalf("expected forbidden error, got %v", err)
	}

	if err := env.Engine.GrantRole(env.Ctx, stranger, stranger, "proposer"); !errors.As(err, &fe) {
		t.Fatalf("stranger granted itself a role: %v", err)
	}
	if err := env.Engine.GrantRole(env.Ctx, chair, stranger, "proposer"); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.AddProposal(env.Ctx, stranger, engine.ProposalCreateOptions{Recipient: bob, Description: "one"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.AddProposal(env.Ctx, chair, engine.ProposalCreateOptions{Recipient: bob, Description: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("ids = %d,%d, want 1,2", first.ID, second.ID)
	}
	if first.Creator != stranger || first.Status != domain.StatusInProgress {
		t.Fatalf("unexpected proposal: %+v", first)
	}

	if err := env.Engine.RevokeRole(env.Ctx, chair, stranger, "proposer"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AddProposal(env.Ctx, stranger, engine.ProposalCreateOptions{Recipient: bob})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden after revoke, got %v", err)
	}
}

func TestSettersRequireConfigurePermission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SetVotingDuration(env.Ctx, stranger, time.Hour)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != auth.PermConfigure {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.SetMinQuorum(env.Ctx, chair, 101); err == nil {
		t.Fatalf("quorum above 100 accepted")
	}

	env.stake(t, alice, 1000)
	id := env.propose(t, nil)
	if _, err := env.Engine.Vote(env.Ctx, alice, id, true); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.GrantRole(env.Ctx, chair, dave, config.RoleConfigurator); err != nil {
		t.Fatal(err)
	}
	params, err := env.Engine.SetVotingDuration(env.Ctx, dave, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if params.VotingDuration != time.Hour {
		t.Fatalf("duration = %s", params.VotingDuration)
	}
	if _, err := env.Engine.SetMinQuorum(env.Ctx, dave, 50); err != nil {
		t.Fatal(err)
	}
	// shorter window applies to the open proposal
	env.advance(time.Hour)
	p, err := env.Engine.Finish(env.Ctx, chair, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", p.Status)
	}
	stored, err := env.Engine.Params(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stored.MinQuorumPercent != 50 || stored.ReferenceSupply.Int64() != 2000 {
		t.Fatalf("stored params = %+v", stored)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetMinQuorum(env.Ctx, chair, 33); err != nil {
		t.Fatal(err)
	}
	params, err := env.Engine.Init(env.Ctx, chair)
	if err != nil {
		t.Fatal(err)
	}
	if params.MinQuorumPercent != 33 {
		t.Fatalf("init overwrote params: %+v", params)
	}
	roles, perms, err := env.Engine.Roles(env.Ctx, chair)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0] != config.RoleChairperson || len(perms) != 3 {
		t.Fatalf("chair roles=%v perms=%v", roles, perms)
	}
}

func TestCallToPlainAccountFinishesAndUnfreezes(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, alice, 1000)
	p, err := env.Engine.AddProposal(env.Ctx, chair, engine.ProposalCreateOptions{Recipient: bob, Description: "ping bob"})
	if err != nil {
		t.Fatalf("add proposal: %v", err)
	}
	if _, err := env.Engine.Vote(env.Ctx, alice, p.ID, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	env.advance(week)
	done, err := env.Engine.Finish(env.Ctx, chair, p.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", done.Status)
	}
	returned, err := env.Engine.Unstake(env.Ctx, alice)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if returned.Int64() != 1000 || env.balance(t, alice) != 1000 {
		t.Fatalf("returned %s, balance %d", returned, env.balance(t, alice))
	}
}

func TestAddProposalRejectsCalldataTokenCannotRun(t *testing.T) {
	env := newTestEnv(t)
	for name, data := range map[string][]byte{
		"empty":            nil,
		"unknown selector": {0xde, 0xad, 0xbe, 0xef},
	} {
		_, err := env.Engine.AddProposal(env.Ctx, chair, engine.ProposalCreateOptions{
			Recipient: env.Config.TokenAddress(),
			CallData:  data,
		})
		if !errors.Is(err, engine.ErrInvalidCall) {
			t.Fatalf("%s: expected ErrInvalidCall, got %v", name, err)
		}
	}
	view, err := erc20.PackBalanceOf(alice)
	if err != nil {
		t.Fatal(err)
	}
	if id := env.propose(t, view); id != 1 {
		t.Fatalf("view call proposal id = %d, want 1", id)
	}
}
