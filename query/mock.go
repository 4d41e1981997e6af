package query

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Mock is an in-memory Facade used by tests and by the heartbeat
// service's liveness probe target. It stores a linear confirmed chain
// plus a flat mempool; callers append blocks with PushBlock and pop the
// tip with PopBlock to exercise the same event sequences the gateway
// would see from a real backend.
type Mock struct {
	mu      sync.RWMutex
	blocks  []Block    // index i is height i
	mempool []*wire.MsgTx
}

// NewMock returns an empty Mock with only a genesis block. A nil
// genesis gets an empty placeholder block so height-0 lookups still
// answer rather than dereferencing nil.
func NewMock(genesis *wire.MsgBlock) *Mock {
	if genesis == nil {
		genesis = &wire.MsgBlock{}
	}
	m := &Mock{}
	m.blocks = append(m.blocks, Block{Height: 0, Block: genesis})
	return m
}

// PushBlock appends a new tip.
func (m *Mock) PushBlock(b *wire.MsgBlock) Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	height := uint32(len(m.blocks))
	m.blocks = append(m.blocks, Block{Height: height, Block: b})
	return Link{Height: height, Hash: b.BlockHash()}
}

// PopBlock removes the current tip, returning it. No-op at genesis.
func (m *Mock) PopBlock() (Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.blocks) <= 1 {
		return Block{}, false
	}
	tip := m.blocks[len(m.blocks)-1]
	m.blocks = m.blocks[:len(m.blocks)-1]
	return tip, true
}

// AddMempoolTx appends tx to the mempool view.
func (m *Mock) AddMempoolTx(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mempool = append(m.mempool, tx)
}

func (m *Mock) GetTopConfirmed() (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.blocks) - 1), nil
}

func (m *Mock) ToConfirmed(height uint32) (Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(height) >= len(m.blocks) {
		return Link{}, ErrNotFound
	}
	return Link{Height: height, Hash: m.blocks[height].Block.BlockHash()}, nil
}

func (m *Mock) ToHeader(hash chainhash.Hash) (Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.blocks {
		if b.Block.BlockHash() == hash {
			return Link{Height: b.Height, Hash: hash}, nil
		}
	}
	return Link{}, ErrNotFound
}

func (m *Mock) GetHeader(link Link) (Header, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(link.Height) >= len(m.blocks) {
		return Header{}, ErrNotFound
	}
	b := m.blocks[link.Height]
	return Header{Height: b.Height, Header: b.Block.Header}, nil
}

func (m *Mock) GetBlock(link Link, witness bool) (Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(link.Height) >= len(m.blocks) {
		return Block{}, ErrNotFound
	}
	return m.blocks[link.Height], nil
}

func (m *Mock) GetTransaction(hash chainhash.Hash, requireConfirmed, witness bool) (Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.blocks {
		for _, tx := range b.Block.Transactions {
			txc := tx.Copy()
			if txc.TxHash() == hash {
				return Tx{Tx: txc, Height: b.Height, BlockHash: b.Block.BlockHash(), Confirmed: true}, nil
			}
		}
	}
	if requireConfirmed {
		return Tx{}, ErrNotFound
	}
	for _, tx := range m.mempool {
		if tx.TxHash() == hash {
			return Tx{Tx: tx, Confirmed: false}, nil
		}
	}
	return Tx{}, ErrNotFound
}

func (m *Mock) GetBranchFees(cancel <-chan struct{}, start uint32, count uint32) ([]FeeSet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sets []FeeSet
	for i := uint32(0); i < count; i++ {
		select {
		case <-cancel:
			return sets, false
		default:
		}
		height := start - i
		if height == 0 || int(height) >= len(m.blocks) {
			break
		}
		rates, ok := m.blockFeesLocked(height)
		if !ok {
			continue
		}
		sets = append(sets, FeeSet{Height: height, Rates: rates})
	}
	return sets, true
}

func (m *Mock) GetBlockFees(link Link) ([]TxFee, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blockFeesLocked(link.Height)
}

func (m *Mock) blockFeesLocked(height uint32) ([]TxFee, bool) {
	if int(height) >= len(m.blocks) {
		return nil, false
	}
	b := m.blocks[height]
	var rates []TxFee
	for _, tx := range b.Block.Transactions {
		rates = append(rates, estimateTxFee(tx))
	}
	return rates, true
}

// estimateTxFee is a mock-only stand-in for a real fee/size lookup: it
// treats every coinbase-sized output sum deficit versus a fixed input
// assumption as the fee, which is good enough to drive deterministic
// tests without a full UTXO set.
func estimateTxFee(tx *wire.MsgTx) TxFee {
	size := tx.SerializeSize()
	if size <= 0 {
		size = 1
	}
	return TxFee{Bytes: uint32(size), Fee: 0}
}

func (m *Mock) FetchHistory(key AddressKey, limit uint32, fromHeight uint32, cb func(HistoryRow) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n uint32
	for i := len(m.blocks) - 1; i >= 0; i-- {
		b := m.blocks[i]
		if uint32(b.Height) > fromHeight && fromHeight != 0 {
			continue
		}
		for _, tx := range b.Block.Transactions {
			if n >= limit {
				return nil
			}
			if !cb(HistoryRow{Height: b.Height, TxHash: tx.TxHash()}) {
				return nil
			}
			n++
		}
	}
	return nil
}

// ErrNotFound is returned by Mock lookups that miss.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not_found" }

var _ Facade = (*Mock)(nil)
