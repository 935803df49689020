package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ERC20 is a minimal token binding used for USDC balance reads and
// payout transfers.
type ERC20 struct {
	client *Client
	addr   common.Address
}

func NewERC20(client *Client, addr common.Address) *ERC20 {
	return &ERC20{client: client, addr: addr}
}

func (t *ERC20) Address() common.Address {
	return t.addr
}

func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	vals, err := t.client.Call(ctx, t.addr, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals output type %T", vals[0])
	}
	return dec, nil
}

func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	vals, err := t.client.Call(ctx, t.addr, erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	vals, err := t.client.Call(ctx, t.addr, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

func (t *ERC20) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return t.client.Transact(ctx, t.addr, erc20ABI, "transfer", to, amount)
}

func asBigInt(v any) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T, want *big.Int", v)
	}
	return n, nil
}
