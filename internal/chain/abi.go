package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs, trimmed to the surface the operator actually calls.
// Custom errors are included so reverts can be decoded into readable
// messages.

const erc20ABIJSON = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const strategyABIJSON = `[
	{"type":"function","name":"getUserYield","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"yieldAmount","type":"uint256"}]},
	{"type":"function","name":"claimUserYield","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"claimedAmount","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"previewWithdraw","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"UserYieldClaimed","inputs":[{"name":"user","type":"address","indexed":true},{"name":"claimer","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"error","name":"NoYieldToClaim","inputs":[{"name":"user","type":"address"}]},
	{"type":"error","name":"InsufficientShares","inputs":[{"name":"required","type":"uint256"},{"name":"available","type":"uint256"}]},
	{"type":"error","name":"WithdrawExceedsMax","inputs":[{"name":"assets","type":"uint256"},{"name":"max","type":"uint256"}]},
	{"type":"error","name":"ZeroAmount","inputs":[]}
]`

const orchestratorABIJSON = `[
	{"type":"function","name":"harvestStrategy","stateMutability":"nonpayable","inputs":[{"name":"strategy","type":"address"}],"outputs":[]},
	{"type":"function","name":"withdrawERC20","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"strategyAsset","type":"address"},{"name":"assets","type":"uint256"},{"name":"outputAsset","type":"address"},{"name":"minAmountOut","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[]},
	{"type":"error","name":"NotOperator","inputs":[{"name":"caller","type":"address"}]},
	{"type":"error","name":"StrategyNotRegistered","inputs":[{"name":"strategy","type":"address"}]},
	{"type":"error","name":"InsufficientAllowance","inputs":[{"name":"owner","type":"address"},{"name":"needed","type":"uint256"},{"name":"allowed","type":"uint256"}]}
]`

const vaultABIJSON = `[
	{"type":"function","name":"idleUnderlying","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"aTokenBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"supplyToAave","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdrawFromAave","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var (
	erc20ABI        = mustParseABI("erc20", erc20ABIJSON)
	strategyABI     = mustParseABI("strategy", strategyABIJSON)
	orchestratorABI = mustParseABI("orchestrator", orchestratorABIJSON)
	vaultABI        = mustParseABI("vault", vaultABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
