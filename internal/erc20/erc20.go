// Package erc20 packs and decodes the ERC-20 calls the governance service
// sends to token contracts.
package erc20

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const abiJSON = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable",
  "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable",
  "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"totalSupply","stateMutability":"view",
  "inputs":[],
  "outputs":[{"name":"","type":"uint256"}]}
]`

// ErrReadOnly is returned by Decode for view methods such as balanceOf.
var ErrReadOnly = errors.New("read-only")

// ABI is the parsed ERC-20 subset.
var ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("erc20: parse abi: %v", err))
	}
	ABI = parsed
}

func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("transfer", to, amount)
}

func PackTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("transferFrom", from, to, amount)
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("approve", spender, amount)
}

func PackBalanceOf(account common.Address) ([]byte, error) {
	return ABI.Pack("balanceOf", account)
}

func PackTotalSupply() ([]byte, error) {
	return ABI.Pack("totalSupply")
}

// Call is a decoded ERC-20 invocation. Unused fields stay zero.
type Call struct {
	Method  string
	From    common.Address
	To      common.Address
	Spender common.Address
	Amount  *big.Int
}

// Decode parses calldata against the ERC-20 subset.
func Decode(data []byte) (Call, error) {
	if len(data) < 4 {
		return Call{}, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return Call{}, fmt.Errorf("unknown selector %x: %w", data[:4], err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return Call{}, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	c := Call{Method: method.Name}
	switch method.Name {
	case "transfer":
		c.To, c.Amount = args[0].(common.Address), args[1].(*big.Int)
	case "transferFrom":
		c.From, c.To, c.Amount = args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
	case "approve":
		c.Spender, c.Amount = args[0].(common.Address), args[1].(*big.Int)
	default:
		return Call{Method: method.Name}, fmt.Errorf("method %s is %w", method.Name, ErrReadOnly)
	}
	return c, nil
}

// UnpackUint reads a single uint256 return value.
func UnpackUint(method string, out []byte) (*big.Int, error) {
	vals, err := ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

// UnpackBool reads an optional bool return value. Tokens that return no data
// are treated as successful.
func UnpackBool(method string, out []byte) (bool, error) {
	if len(out) == 0 {
		return true, nil
	}
	vals, err := ABI.Unpack(method, out)
	if err != nil {
		return false, fmt.Errorf("unpack %s: %w", method, err)
	}
	ok, _ := vals[0].(bool)
	return ok, nil
}
