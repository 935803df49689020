package chain

import (
	"regexp"
	"strings"
)

var txHashRe = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)

// ExtractTxHash normalizes a transaction hash that may have been
// submitted as a full explorer URL. Returns the bare hash when one is
// present, otherwise the input unchanged.
func ExtractTxHash(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if strings.HasPrefix(input, "0x") && len(input) == 66 {
		return input
	}
	if match := txHashRe.FindString(input); match != "" {
		return match
	}
	return input
}

// ShortAddress abbreviates an address for log lines: 0x1234…abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
