package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Orchestrator binds the on-chain orchestrator contract: the
// operator-gated entrypoint for harvesting strategies and executing
// withdrawals on behalf of donors.
type Orchestrator struct {
	client *Client
	addr   common.Address
}

func NewOrchestrator(client *Client, addr common.Address) *Orchestrator {
	return &Orchestrator{client: client, addr: addr}
}

func (o *Orchestrator) Address() common.Address {
	return o.addr
}

// ABI exposes the parsed ABI for revert decoding.
func (o *Orchestrator) ABI() abi.ABI {
	return orchestratorABI
}

// HarvestStrategy realizes pending yield on the strategy. The whole
// distribution cycle depends on this landing first.
func (o *Orchestrator) HarvestStrategy(ctx context.Context, strategy common.Address) (*types.Receipt, error) {
	return o.client.Transact(ctx, o.addr, orchestratorABI, "harvestStrategy", strategy)
}

// WithdrawERC20 withdraws assets from a strategy position owned by
// owner and sends the output asset to receiver. The owner must have
// approved the orchestrator for the shares being burned.
func (o *Orchestrator) WithdrawERC20(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error) {
	return o.client.Transact(ctx, o.addr, orchestratorABI, "withdrawERC20",
		owner, strategyAsset, assets, outputAsset, minAmountOut, receiver)
}
