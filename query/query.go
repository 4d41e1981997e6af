// Package query defines the read-only facade the gateway's core uses
// against the chain and mempool. It is deliberately narrow: the core
// never validates or mutates chain state, it only reads through this
// interface. A production binary wires a real implementation backed by
// the node's block/tx storage; Mock (in mock.go) is the in-memory
// stand-in used by tests and by the heartbeat liveness probe.
package query

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Link is an opaque locator into the confirmed chain, returned by
// ToConfirmed/ToHeader and consumed by GetHeader/GetBlock. Callers must
// not assume anything about its internal shape.
type Link struct {
	Height uint32
	Hash   chainhash.Hash
}

// Header mirrors wire.BlockHeader plus the height the facade resolved
// it at, since callers frequently need both together.
type Header struct {
	Height uint32
	Header wire.BlockHeader
}

// Block is a confirmed block plus its height.
type Block struct {
	Height uint32
	Block  *wire.MsgBlock
}

// Tx wraps a transaction with the confirmation context the caller
// asked for (RequireConfirmed), or zero Height/BlockHash if it was
// served out of the mempool.
type Tx struct {
	Tx        *wire.MsgTx
	Height    uint32
	BlockHash chainhash.Hash
	Confirmed bool
}

// FeeSet is one confirmed block's (bytes, fee) pairs, the unit the fee
// estimator's push/pop and initialize/replay operate on.
type FeeSet struct {
	Height uint32
	Rates  []TxFee
}

// TxFee is a single transaction's size/fee pair as consumed by the fee
// estimator's bin assignment.
type TxFee struct {
	Bytes uint32
	Fee   uint64
}

// AddressKey identifies either an address (160-bit hash) or a
// script-hash (256-bit hash) history lookup target for FetchHistory.
type AddressKey struct {
	Hash160    [20]byte
	ScriptHash [32]byte
	IsScript   bool
}

// HistoryRow is one entry of an address/script-hash history as served
// by FetchHistory. Value carries the output amount in satoshis for
// receive rows and the spent amount for spend rows, so balance
// queries can fold over a history without a second lookup.
type HistoryRow struct {
	Height uint32
	TxHash chainhash.Hash
	Spend  bool
	Value  uint64
}

// Facade is the set of read-only operations the core consumes from the
// chain/mempool storage layer.
type Facade interface {
	// GetTopConfirmed returns the height of the current confirmed tip.
	GetTopConfirmed() (uint32, error)

	// ToConfirmed resolves a height to a Link in the confirmed chain.
	ToConfirmed(height uint32) (Link, error)

	// ToHeader resolves a block hash to a Link.
	ToHeader(hash chainhash.Hash) (Link, error)

	// GetHeader fetches the header at link.
	GetHeader(link Link) (Header, error)

	// GetBlock fetches the full block at link. When witness is false
	// the caller wants the canonical non-witness serialization.
	GetBlock(link Link, witness bool) (Block, error)

	// GetTransaction fetches a transaction by hash. If requireConfirmed
	// is true, mempool-only transactions are not returned.
	GetTransaction(hash chainhash.Hash, requireConfirmed bool, witness bool) (Tx, error)

	// GetBranchFees pulls `count` confirmed blocks' fee-rate sets
	// starting at `start`, honoring cancel between blocks. Returns
	// false if cancel fired before count blocks were gathered.
	GetBranchFees(cancel <-chan struct{}, start uint32, count uint32) ([]FeeSet, bool)

	// GetBlockFees fetches one block's fee-rate set by link.
	GetBlockFees(link Link) ([]TxFee, bool)

	// FetchHistory streams history rows for key, newest first, calling
	// cb for each until it returns false or limit rows have been sent.
	FetchHistory(key AddressKey, limit uint32, fromHeight uint32, cb func(HistoryRow) bool) error
}

// Amount re-exports btcutil.Amount so callers of this package don't
// need a second import for the one place the facade talks in coin
// units (GetBlockFees callers translating to sat/vbyte).
type Amount = btcutil.Amount
