package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Strategy binds the yield strategy vault: an ERC-4626 style contract
// that tracks per-donor accrued yield on top of the share accounting.
type Strategy struct {
	client *Client
	addr   common.Address
}

func NewStrategy(client *Client, addr common.Address) *Strategy {
	return &Strategy{client: client, addr: addr}
}

func (s *Strategy) Address() common.Address {
	return s.addr
}

// ABI exposes the parsed ABI for revert decoding.
func (s *Strategy) ABI() abi.ABI {
	return strategyABI
}

// GetUserYield returns the yield currently claimable for a donor.
func (s *Strategy) GetUserYield(ctx context.Context, user common.Address) (*big.Int, error) {
	vals, err := s.client.Call(ctx, s.addr, strategyABI, "getUserYield", user)
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

// ClaimUserYield pulls a donor's accrued yield to the operator.
func (s *Strategy) ClaimUserYield(ctx context.Context, user common.Address) (*types.Receipt, error) {
	return s.client.Transact(ctx, s.addr, strategyABI, "claimUserYield", user)
}

// ClaimedAmountFromReceipt scans a claim receipt for the
// UserYieldClaimed event matching both the donor and the claimer, and
// returns the claimed amount. Events from other contracts or for
// other accounts are ignored.
func (s *Strategy) ClaimedAmountFromReceipt(receipt *types.Receipt, user, claimer common.Address) (*big.Int, bool) {
	event := strategyABI.Events["UserYieldClaimed"]
	for _, lg := range receipt.Logs {
		if lg.Address != s.addr {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != event.ID {
			continue
		}
		logUser := common.BytesToAddress(lg.Topics[1].Bytes())
		logClaimer := common.BytesToAddress(lg.Topics[2].Bytes())
		if logUser != user || logClaimer != claimer {
			continue
		}
		vals, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) != 1 {
			continue
		}
		amount, ok := vals[0].(*big.Int)
		if !ok {
			continue
		}
		return amount, true
	}
	return nil, false
}

func (s *Strategy) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	vals, err := s.client.Call(ctx, s.addr, strategyABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

func (s *Strategy) TotalAssets(ctx context.Context) (*big.Int, error) {
	vals, err := s.client.Call(ctx, s.addr, strategyABI, "totalAssets")
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

func (s *Strategy) TotalSupply(ctx context.Context) (*big.Int, error) {
	vals, err := s.client.Call(ctx, s.addr, strategyABI, "totalSupply")
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

// PreviewWithdraw converts an asset amount into the shares that a
// withdrawal of that amount would burn.
func (s *Strategy) PreviewWithdraw(ctx context.Context, assets *big.Int) (*big.Int, error) {
	vals, err := s.client.Call(ctx, s.addr, strategyABI, "previewWithdraw", assets)
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}

// Allowance returns how many shares owner has approved spender to
// move on their behalf.
func (s *Strategy) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	vals, err := s.client.Call(ctx, s.addr, strategyABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(vals[0])
}
