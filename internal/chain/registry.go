package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network describes a supported settlement chain. Funds always
// originate on Base; the other entries are bridge destinations.
type Network struct {
	Key  string // lowercase key stored as a recipient's preferred chain
	Name string
	ID   int64
	USDC common.Address
}

// DefaultNetworkKey is used when a recipient has no stored preference.
const DefaultNetworkKey = "base"

var networks = []Network{
	{Key: "ethereum", Name: "Ethereum", ID: 1, USDC: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")},
	{Key: "polygon", Name: "Polygon", ID: 137, USDC: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")},
	{Key: "arbitrum", Name: "Arbitrum", ID: 42161, USDC: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")},
	{Key: "optimism", Name: "Optimism", ID: 10, USDC: common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")},
	{Key: "base", Name: "Base", ID: 8453, USDC: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")},
}

// NetworkByKey looks up a supported network by its lowercase key.
func NetworkByKey(key string) (Network, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, n := range networks {
		if n.Key == key {
			return n, true
		}
	}
	return Network{}, false
}

// NetworkByID looks up a supported network by chain id.
func NetworkByID(id int64) (Network, bool) {
	for _, n := range networks {
		if n.ID == id {
			return n, true
		}
	}
	return Network{}, false
}

// Networks returns all supported networks.
func Networks() []Network {
	out := make([]Network, len(networks))
	copy(out, networks)
	return out
}
