package chain

import (
	"context"
	"database/sql"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/erc20"
)

var tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000007031")

type fakeBackend struct {
	mu       sync.Mutex
	calls    map[string][]byte
	sent     []*types.Transaction
	pending  int
	status   uint64
	nonce    uint64
	estimate error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: map[string][]byte{}, status: types.ReceiptStatusSuccessful, nonce: 7}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(31337), nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.calls[hexutil.Encode(msg.Data[:4])], nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60000, f.estimate
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status, TxHash: hash}, nil
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(context.Background(), backend, key)
	require.NoError(t, err)
	c.PollInterval = time.Millisecond
	return c
}

func TestTokenReadsFromContract(t *testing.T) {
	backend := newFakeBackend()
	balOut, err := erc20.ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	supplyOut, err := erc20.ABI.Methods["totalSupply"].Outputs.Pack(big.NewInt(1000))
	require.NoError(t, err)
	backend.calls[hexutil.Encode(erc20.ABI.Methods["balanceOf"].ID)] = balOut
	backend.calls[hexutil.Encode(erc20.ABI.Methods["totalSupply"].ID)] = supplyOut

	tok := Token{Client: newTestClient(t, backend), Address: tokenAddr}
	bal, err := tok.BalanceOf(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	supply, err := tok.TotalSupply(context.Background(), (*sql.Tx)(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), supply.Int64())
}

func TestTransferSignsAndWaitsForReceipt(t *testing.T) {
	backend := newFakeBackend()
	backend.pending = 2
	c := newTestClient(t, backend)
	tok := Token{Client: c, Address: tokenAddr}
	to := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	require.NoError(t, tok.Transfer(context.Background(), nil, to, big.NewInt(5)))
	require.Len(t, backend.sent, 1)
	sent := backend.sent[0]
	assert.Equal(t, tokenAddr, *sent.To())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, 0, backend.pending)

	sender, err := types.Sender(types.LatestSignerForChainID(c.ChainID), sent)
	require.NoError(t, err)
	assert.Equal(t, c.From, sender)

	call, err := erc20.Decode(sent.Data())
	require.NoError(t, err)
	assert.Equal(t, "transfer", call.Method)
	assert.Equal(t, to, call.To)
}

func TestRevertedReceipt(t *testing.T) {
	backend := newFakeBackend()
	backend.status = types.ReceiptStatusFailed
	c := newTestClient(t, backend)

	err := Token{Client: c, Address: tokenAddr}.TransferFrom(context.Background(), nil, common.Address{1}, c.From, big.NewInt(1))
	assert.ErrorIs(t, err, ErrReverted)
}

func TestTokenFalseResultFailsBeforeSending(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend)
	tok := Token{Client: c, Address: tokenAddr}
	selector := hexutil.Encode(erc20.ABI.Methods["transferFrom"].ID)
	staker := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	falseOut, err := erc20.ABI.Methods["transferFrom"].Outputs.Pack(false)
	require.NoError(t, err)
	backend.calls[selector] = falseOut
	err = tok.TransferFrom(context.Background(), nil, staker, c.From, big.NewInt(100))
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Empty(t, backend.sent)

	trueOut, err := erc20.ABI.Methods["transferFrom"].Outputs.Pack(true)
	require.NoError(t, err)
	backend.calls[selector] = trueOut
	require.NoError(t, tok.TransferFrom(context.Background(), nil, staker, c.From, big.NewInt(100)))
	assert.Len(t, backend.sent, 1)
}

func TestExecutorRequiresCustodyKey(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend)
	x := Executor{Client: c}
	data, err := erc20.PackApprove(common.Address{2}, big.NewInt(1))
	require.NoError(t, err)

	err = x.Execute(context.Background(), nil, domain.Call{From: common.Address{9}, To: tokenAddr, Data: data})
	assert.ErrorContains(t, err, "not controlled")
	assert.Empty(t, backend.sent)

	require.NoError(t, x.Execute(context.Background(), nil, domain.Call{From: c.From, To: tokenAddr, Data: data}))
	assert.Len(t, backend.sent, 1)
}

type closingBackend struct {
	*fakeBackend
	closed bool
}

func (b *closingBackend) Close() { b.closed = true }

func TestClientCloseReleasesBackend(t *testing.T) {
	backend := &closingBackend{fakeBackend: newFakeBackend()}
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(context.Background(), backend, key)
	require.NoError(t, err)

	c.Close()
	assert.True(t, backend.closed)

	var none *Client
	assert.NotPanics(t, none.Close)
	assert.NotPanics(t, newTestClient(t, newFakeBackend()).Close)
}

func TestLoadKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv("DAO_TEST_KEY", "0x"+common.Bytes2Hex(crypto.FromECDSA(key)))

	loaded, err := LoadKey("DAO_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(loaded.PublicKey))

	_, err = LoadKey("DAO_TEST_KEY_UNSET")
	assert.ErrorIs(t, err, ErrMissingKey)
}
