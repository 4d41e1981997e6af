package session

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// txKeys is the set of notification match keys one transaction
// exposes: a 160-bit address hash per standard output (and per
// resolvable input prevout), and a 256-bit script hash per output
// script. One entry per occurrence, not deduplicated, so a client
// watching a prefix sees one notification per matching output.
type txKeys struct {
	addresses    [][]byte
	scriptHashes [][]byte
}

// extractTxKeys walks tx's outputs and inputs collecting match keys.
// Input keys come from the referenced prevout's script, resolved
// through the query facade; a prevout the facade can't serve (pruned,
// foreign, or still unconfirmed under requireConfirmed semantics) is
// skipped rather than failing the whole extraction.
func (g *Gateway) extractTxKeys(tx *wire.MsgTx) txKeys {
	var keys txKeys
	for _, out := range tx.TxOut {
		g.collectScriptKeys(out.PkScript, &keys)
	}
	for _, in := range tx.TxIn {
		if isCoinbaseInput(in) {
			continue
		}
		prev, err := g.Query.GetTransaction(in.PreviousOutPoint.Hash, false, false)
		if err != nil || int(in.PreviousOutPoint.Index) >= len(prev.Tx.TxOut) {
			continue
		}
		g.collectScriptKeys(prev.Tx.TxOut[in.PreviousOutPoint.Index].PkScript, &keys)
	}
	return keys
}

func (g *Gateway) collectScriptKeys(pkScript []byte, keys *txKeys) {
	sh := sha256.Sum256(pkScript)
	keys.scriptHashes = append(keys.scriptHashes, sh[:])

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, g.ChainParams)
	if err != nil {
		return
	}
	for _, addr := range addrs {
		keys.addresses = append(keys.addresses, addr.ScriptAddress())
	}
}

func isCoinbaseInput(in *wire.TxIn) bool {
	return in.PreviousOutPoint.Index == wire.MaxPrevOutIndex &&
		bytes.Equal(in.PreviousOutPoint.Hash[:], zeroHash[:])
}

var zeroHash [32]byte

func serializeNotifyTx(tx *wire.MsgTx, witness bool) []byte {
	var buf bytes.Buffer
	var err error
	if witness {
		err = tx.Serialize(&buf)
	} else {
		err = tx.SerializeNoWitness(&buf)
	}
	if err != nil {
		return nil
	}
	return buf.Bytes()
}
