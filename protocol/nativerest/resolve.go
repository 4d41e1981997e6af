package nativerest

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/query"
)

// Options carry the query-string modifiers every native REST request
// accepts alongside its path.
type Options struct {
	// Witness selects whether transactions serialize with witness
	// data. Defaults to true.
	Witness bool
	// Turbo requests the abbreviated response shape: summary objects
	// omit their heavyweight detail fields.
	Turbo bool
}

// DefaultOptions is the modifier set applied when the query string is
// absent.
var DefaultOptions = Options{Witness: true}

// Resource is one resolved native REST result: a JSON object tree,
// plus the canonical byte serialization for resources that have one
// (blocks, transactions, headers, scripts), which the text and data
// media render directly.
type Resource struct {
	JSON interface{}
	Raw  []byte
}

// ResolveRequest runs the handler for a parsed PathRequest.
func (s *Server) ResolveRequest(req PathRequest, opts Options) (Resource, error) {
	switch req.Component {
	case "top":
		return s.resolveTop()
	case "address":
		return s.resolveAddress(req)
	case "tx":
		return s.resolveTx(req, opts)
	case "input":
		return s.resolveInput(req)
	case "output":
		return s.resolveOutput(req)
	case "block":
		return s.resolveBlock(req, opts)
	default:
		return Resource{}, bserr.New(bserr.KindInvalidComponent, "unknown component %q", req.Component)
	}
}

func (s *Server) resolveTop() (Resource, error) {
	top, err := s.Query.GetTopConfirmed()
	if err != nil {
		return Resource{}, bserr.Wrap(bserr.KindServerError, err)
	}
	link, err := s.Query.ToConfirmed(top)
	if err != nil {
		return Resource{}, bserr.Wrap(bserr.KindServerError, err)
	}
	return Resource{JSON: map[string]interface{}{
		"height": top,
		"hash":   link.Hash.String(),
	}}, nil
}

func (s *Server) resolveAddress(req PathRequest) (Resource, error) {
	key := query.AddressKey{IsScript: true}
	copy(key.ScriptHash[:], req.Hash[:])

	var rows []query.HistoryRow
	err := s.Query.FetchHistory(key, maxHistoryRows, 0, func(row query.HistoryRow) bool {
		rows = append(rows, row)
		return true
	})
	if err != nil {
		return Resource{}, bserr.Wrap(bserr.KindServerError, err)
	}

	switch req.Subcomponent {
	case "confirmed":
		rows = filterRows(rows, func(r query.HistoryRow) bool { return r.Height > 0 })
	case "unconfirmed":
		rows = filterRows(rows, func(r query.HistoryRow) bool { return r.Height == 0 })
	case "balance":
		var received, spent uint64
		for _, r := range rows {
			if r.Spend {
				spent += r.Value
			} else {
				received += r.Value
			}
		}
		balance := uint64(0)
		if received > spent {
			balance = received - spent
		}
		return Resource{JSON: map[string]interface{}{
			"received": received,
			"spent":    spent,
			"balance":  balance,
		}}, nil
	}

	history := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		history[i] = map[string]interface{}{
			"height":  r.Height,
			"tx_hash": r.TxHash.String(),
			"spend":   r.Spend,
			"value":   r.Value,
		}
	}
	return Resource{JSON: map[string]interface{}{"history": history}}, nil
}

func filterRows(rows []query.HistoryRow, keep func(query.HistoryRow) bool) []query.HistoryRow {
	out := rows[:0]
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

const maxHistoryRows = 10000

func (s *Server) resolveTx(req PathRequest, opts Options) (Resource, error) {
	tx, err := s.Query.GetTransaction(req.Hash, false, opts.Witness)
	if err != nil {
		return Resource{}, bserr.New(bserr.KindNotFound, "transaction not found")
	}

	switch req.Subcomponent {
	case "header":
		if !tx.Confirmed {
			return Resource{}, bserr.New(bserr.KindNotFound, "transaction is unconfirmed")
		}
		link, err := s.Query.ToHeader(tx.BlockHash)
		if err != nil {
			return Resource{}, bserr.Wrap(bserr.KindServerError, err)
		}
		return s.headerResource(link, false)
	case "details":
		raw, err := serializeTx(tx.Tx, opts.Witness)
		if err != nil {
			return Resource{}, err
		}
		return Resource{JSON: txDetails(tx), Raw: raw}, nil
	default:
		raw, err := serializeTx(tx.Tx, opts.Witness)
		if err != nil {
			return Resource{}, err
		}
		j := map[string]interface{}{
			"txid":      tx.Tx.TxHash().String(),
			"confirmed": tx.Confirmed,
		}
		if tx.Confirmed {
			j["height"] = tx.Height
			j["block_hash"] = tx.BlockHash.String()
		}
		if !opts.Turbo {
			j["size"] = tx.Tx.SerializeSize()
		}
		return Resource{JSON: j, Raw: raw}, nil
	}
}

func txDetails(tx query.Tx) map[string]interface{} {
	inputs := make([]map[string]interface{}, len(tx.Tx.TxIn))
	for i, in := range tx.Tx.TxIn {
		inputs[i] = map[string]interface{}{
			"prev_hash":  in.PreviousOutPoint.Hash.String(),
			"prev_index": in.PreviousOutPoint.Index,
			"script":     hex.EncodeToString(in.SignatureScript),
			"sequence":   in.Sequence,
		}
	}
	outputs := make([]map[string]interface{}, len(tx.Tx.TxOut))
	for i, out := range tx.Tx.TxOut {
		outputs[i] = map[string]interface{}{
			"value":  out.Value,
			"script": hex.EncodeToString(out.PkScript),
		}
	}
	j := map[string]interface{}{
		"txid":      tx.Tx.TxHash().String(),
		"version":   tx.Tx.Version,
		"locktime":  tx.Tx.LockTime,
		"inputs":    inputs,
		"outputs":   outputs,
		"confirmed": tx.Confirmed,
	}
	if tx.Confirmed {
		j["height"] = tx.Height
		j["block_hash"] = tx.BlockHash.String()
	}
	return j
}

func (s *Server) resolveInput(req PathRequest) (Resource, error) {
	tx, err := s.Query.GetTransaction(req.Hash, false, true)
	if err != nil {
		return Resource{}, bserr.New(bserr.KindNotFound, "transaction not found")
	}
	if !req.HasIndex {
		list := make([]map[string]interface{}, len(tx.Tx.TxIn))
		for i, in := range tx.Tx.TxIn {
			list[i] = inputJSON(in)
		}
		return Resource{JSON: list}, nil
	}
	if int(req.Index) >= len(tx.Tx.TxIn) {
		return Resource{}, bserr.New(bserr.KindNotFound, "input %d out of range", req.Index)
	}
	in := tx.Tx.TxIn[req.Index]

	switch req.Subcomponent {
	case "script":
		return Resource{
			JSON: hex.EncodeToString(in.SignatureScript),
			Raw:  in.SignatureScript,
		}, nil
	case "witness":
		items := make([]string, len(in.Witness))
		for i, w := range in.Witness {
			items[i] = hex.EncodeToString(w)
		}
		return Resource{JSON: items}, nil
	default:
		return Resource{JSON: inputJSON(in)}, nil
	}
}

func inputJSON(in *wire.TxIn) map[string]interface{} {
	return map[string]interface{}{
		"prev_hash":  in.PreviousOutPoint.Hash.String(),
		"prev_index": in.PreviousOutPoint.Index,
		"sequence":   in.Sequence,
	}
}

func (s *Server) resolveOutput(req PathRequest) (Resource, error) {
	tx, err := s.Query.GetTransaction(req.Hash, false, true)
	if err != nil {
		return Resource{}, bserr.New(bserr.KindNotFound, "transaction not found")
	}
	if !req.HasIndex {
		list := make([]map[string]interface{}, len(tx.Tx.TxOut))
		for i, out := range tx.Tx.TxOut {
			list[i] = outputJSON(out)
		}
		return Resource{JSON: list}, nil
	}
	if int(req.Index) >= len(tx.Tx.TxOut) {
		return Resource{}, bserr.New(bserr.KindNotFound, "output %d out of range", req.Index)
	}
	out := tx.Tx.TxOut[req.Index]

	switch req.Subcomponent {
	case "script":
		return Resource{
			JSON: hex.EncodeToString(out.PkScript),
			Raw:  out.PkScript,
		}, nil
	case "spender", "spenders":
		// A spender lookup needs a spend index the query facade does
		// not expose; the route parses so callers get a stable error
		// rather than a 404 on a well-formed path.
		return Resource{}, bserr.New(bserr.KindNotImplemented, "spender lookup not available")
	default:
		return Resource{JSON: outputJSON(out)}, nil
	}
}

func outputJSON(out *wire.TxOut) map[string]interface{} {
	return map[string]interface{}{
		"value":  out.Value,
		"script": hex.EncodeToString(out.PkScript),
	}
}

func (s *Server) blockLink(req PathRequest) (query.Link, error) {
	if req.ByHeight {
		link, err := s.Query.ToConfirmed(req.Height)
		if err != nil {
			return query.Link{}, bserr.New(bserr.KindNotFound, "block not found at height %d", req.Height)
		}
		return link, nil
	}
	link, err := s.Query.ToHeader(req.Hash)
	if err != nil {
		return query.Link{}, bserr.New(bserr.KindNotFound, "block not found for hash %s", req.HashHex)
	}
	return link, nil
}

func (s *Server) resolveBlock(req PathRequest, opts Options) (Resource, error) {
	link, err := s.blockLink(req)
	if err != nil {
		return Resource{}, err
	}

	switch req.Subcomponent {
	case "header":
		return s.headerResource(link, req.Context)
	case "txs":
		block, err := s.Query.GetBlock(link, opts.Witness)
		if err != nil {
			return Resource{}, bserr.Wrap(bserr.KindServerError, err)
		}
		txids := make([]string, len(block.Block.Transactions))
		for i, tx := range block.Block.Transactions {
			txids[i] = tx.TxHash().String()
		}
		return Resource{JSON: map[string]interface{}{
			"height": block.Height,
			"hash":   link.Hash.String(),
			"txs":    txids,
		}}, nil
	case "details":
		block, err := s.Query.GetBlock(link, opts.Witness)
		if err != nil {
			return Resource{}, bserr.Wrap(bserr.KindServerError, err)
		}
		details := make([]map[string]interface{}, len(block.Block.Transactions))
		for i, tx := range block.Block.Transactions {
			details[i] = txDetails(query.Tx{
				Tx: tx, Height: block.Height, BlockHash: link.Hash, Confirmed: true,
			})
		}
		raw, err := serializeBlock(block.Block, opts.Witness)
		if err != nil {
			return Resource{}, err
		}
		return Resource{JSON: map[string]interface{}{
			"height": block.Height,
			"hash":   link.Hash.String(),
			"txs":    details,
		}, Raw: raw}, nil
	case "tx":
		block, err := s.Query.GetBlock(link, opts.Witness)
		if err != nil {
			return Resource{}, bserr.Wrap(bserr.KindServerError, err)
		}
		if int(req.Index) >= len(block.Block.Transactions) {
			return Resource{}, bserr.New(bserr.KindNotFound, "tx position %d out of range", req.Index)
		}
		tx := block.Block.Transactions[req.Index]
		raw, err := serializeTx(tx, opts.Witness)
		if err != nil {
			return Resource{}, err
		}
		return Resource{JSON: txDetails(query.Tx{
			Tx: tx, Height: block.Height, BlockHash: link.Hash, Confirmed: true,
		}), Raw: raw}, nil
	case "filter":
		// Compact filters are not served by the query facade.
		return Resource{}, bserr.New(bserr.KindNotImplemented, "block filters not available")
	default:
		block, err := s.Query.GetBlock(link, opts.Witness)
		if err != nil {
			return Resource{}, bserr.Wrap(bserr.KindServerError, err)
		}
		raw, err := serializeBlock(block.Block, opts.Witness)
		if err != nil {
			return Resource{}, err
		}
		j := map[string]interface{}{
			"height": block.Height,
			"hash":   link.Hash.String(),
		}
		if !opts.Turbo {
			txids := make([]string, len(block.Block.Transactions))
			for i, tx := range block.Block.Transactions {
				txids[i] = tx.TxHash().String()
			}
			j["tx"] = txids
		}
		return Resource{JSON: j, Raw: raw}, nil
	}
}

func (s *Server) headerResource(link query.Link, withContext bool) (Resource, error) {
	hdr, err := s.Query.GetHeader(link)
	if err != nil {
		return Resource{}, bserr.Wrap(bserr.KindServerError, err)
	}

	var buf bytes.Buffer
	if err := hdr.Header.Serialize(&buf); err != nil {
		return Resource{}, bserr.Wrap(bserr.KindServerError, err)
	}

	j := map[string]interface{}{
		"hash":        link.Hash.String(),
		"version":     hdr.Header.Version,
		"prev_block":  hdr.Header.PrevBlock.String(),
		"merkle_root": hdr.Header.MerkleRoot.String(),
		"time":        hdr.Header.Timestamp.Unix(),
		"bits":        hdr.Header.Bits,
		"nonce":       hdr.Header.Nonce,
	}
	if withContext {
		ctx := map[string]interface{}{"height": hdr.Height}
		if top, err := s.Query.GetTopConfirmed(); err == nil {
			ctx["confirmations"] = int64(top) - int64(hdr.Height) + 1
			if hdr.Height < top {
				if next, err := s.Query.ToConfirmed(hdr.Height + 1); err == nil {
					ctx["next_block"] = next.Hash.String()
				}
			}
		}
		j["context"] = ctx
	} else {
		j["height"] = hdr.Height
	}
	return Resource{JSON: j, Raw: buf.Bytes()}, nil
}

func serializeTx(tx *wire.MsgTx, witness bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if witness {
		err = tx.Serialize(&buf)
	} else {
		err = tx.SerializeNoWitness(&buf)
	}
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	return buf.Bytes(), nil
}

func serializeBlock(b *wire.MsgBlock, witness bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if witness {
		err = b.Serialize(&buf)
	} else {
		err = b.SerializeNoWitness(&buf)
	}
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	return buf.Bytes(), nil
}
