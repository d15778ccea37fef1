package app

import (
	"context"
	"database/sql"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stheg/dao-market-referrals-program/internal/config"
	"github.com/stheg/dao-market-referrals-program/internal/token"
)

var chair = common.HexToAddress("0x00000000000000000000000000000000000c4a17")

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(body), 0o644))
}

func TestOpenLedgerWorkspace(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.GenerateDefault(chair))
	ctx := context.Background()

	rt, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Ledger)

	params, err := rt.Engine.Init(ctx, chair)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), params.MinQuorumPercent)

	require.NoError(t, rt.WithLedger(ctx, func(tx *sql.Tx, l token.Ledger) error {
		return l.Mint(ctx, tx, chair, big.NewInt(10))
	}))
	require.NoError(t, rt.WithLedger(ctx, func(tx *sql.Tx, _ token.Ledger) error {
		bal, err := rt.Engine.Token.BalanceOf(ctx, tx, chair)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(10), bal.Int64())
		return nil
	}))
}

func TestOpenERC20NeedsKey(t *testing.T) {
	dir := t.TempDir()
	yml := strings.Replace(config.GenerateDefault(chair), "mode: ledger", "mode: erc20", 1)
	yml += "\nchain:\n  rpc_url: \"http://127.0.0.1:8545\"\n  key_env: DAO_TEST_CUSTODY_KEY\n"
	writeConfig(t, dir, yml)
	t.Setenv("DAO_TEST_CUSTODY_KEY", "")

	_, err := Open(context.Background(), dir, nil)
	assert.Error(t, err)
}

func TestLoadEnvKeepsProcessValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DAO_TEST_A=file\nDAO_TEST_B=file\n"), 0o644))
	t.Setenv("DAO_TEST_A", "process")
	t.Setenv("DAO_TEST_B", "")
	os.Unsetenv("DAO_TEST_B")

	require.NoError(t, LoadEnv(dir))
	assert.Equal(t, "process", os.Getenv("DAO_TEST_A"))
	assert.Equal(t, "file", os.Getenv("DAO_TEST_B"))
}

func TestMissingConfig(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), nil)
	assert.ErrorContains(t, err, "dao init")
}
