package bridge

import (
	"encoding/json"
	"errors"
	"math/big"
)

// ErrNoRoute is returned when the provider has no route for the
// requested transfer.
var ErrNoRoute = errors.New("no bridge route found")

// RouteRequest describes a cross-chain transfer to quote.
type RouteRequest struct {
	FromChainID      int64
	ToChainID        int64
	FromTokenAddress string
	ToTokenAddress   string
	FromAddress      string
	ToAddress        string
	FromAmount       *big.Int
}

// Route is a quoted path. Steps execute in order on the source chain.
type Route struct {
	ID    string
	Tool  string
	Steps []Step
}

// Step is one leg of a route. Raw carries the provider's full step
// object so it can be posted back when requesting the step's
// transaction.
type Step struct {
	ID   string
	Tool string
	Raw  json.RawMessage
}

// TxRequest is the calldata the provider asks the sender to execute.
type TxRequest struct {
	To      string
	Data    string
	Value   *big.Int
	ChainID int64
}

// StatusKind is the tagged state of a bridge transfer. There is no
// optional-field probing: a status is exactly one of these.
type StatusKind int

const (
	StatusPending StatusKind = iota
	StatusDone
	StatusFailed
)

func (k StatusKind) String() string {
	switch k {
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Status is a point-in-time view of a transfer.
type Status struct {
	Kind            StatusKind
	SendingTxHash   string
	ReceivingTxHash string
	ExplorerLink    string
}

// HashSource tags where a settlement's recorded transaction hash came
// from.
type HashSource int

const (
	HashUnresolved HashSource = iota
	HashFromSource
	HashFromDestination
)

// PendingHashPlaceholder is recorded when a bridge settled but no
// transaction hash could be recovered from the provider.
const PendingHashPlaceholder = "pending"

// Execution is the outcome of driving a route to completion.
type Execution struct {
	SourceTxHash      string
	DestinationTxHash string
	ExplorerLink      string
}

// ResolveHash picks the hash to persist for a finished bridge:
// the source-chain hash when known, else the destination-chain hash,
// else the pending placeholder.
func (e *Execution) ResolveHash() (string, HashSource) {
	if e.SourceTxHash != "" {
		return e.SourceTxHash, HashFromSource
	}
	if e.DestinationTxHash != "" {
		return e.DestinationTxHash, HashFromDestination
	}
	return PendingHashPlaceholder, HashUnresolved
}

// StepUpdate reports execution progress to the caller's hook.
type StepUpdate struct {
	StepID string
	TxHash string
	Status StatusKind
}
