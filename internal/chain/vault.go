package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Vault binds the deposit vault that parks donor principal and pushes
// it in and out of the lending pool.
type Vault struct {
	client *Client
	addr   common.Address
}

func NewVault(client *Client, addr common.Address) *Vault {
	return &Vault{client: client, addr: addr}
}

func (v *Vault) Address() common.Address {
	return v.addr
}

// IdleUnderlying returns the underlying balance sitting in the vault,
// outside the lending pool.
func (v *Vault) IdleUnderlying(ctx context.Context) (*big.Int, error) {
	vals, err := v.client.Call(ctx, v.addr, vaultABI, "idleUnderlying")
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

// ATokenBalance returns the underlying currently supplied to the
// lending pool, denominated via the pool's interest-bearing token.
func (v *Vault) ATokenBalance(ctx context.Context) (*big.Int, error) {
	vals, err := v.client.Call(ctx, v.addr, vaultABI, "aTokenBalance")
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

// SupplyToPool moves idle underlying into the lending pool.
func (v *Vault) SupplyToPool(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	return v.client.Transact(ctx, v.addr, vaultABI, "supplyToAave", amount)
}

// WithdrawFromPool pulls supplied underlying back into the vault.
func (v *Vault) WithdrawFromPool(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	return v.client.Transact(ctx, v.addr, vaultABI, "withdrawFromAave", amount)
}
