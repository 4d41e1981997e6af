package bitcoindrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/feeestimator"
)

// unmarshalPositional decodes a normalized positional params array
// into the supplied destinations, one per slot, leaving any
// destination beyond the array's length at its zero value.
func unmarshalPositional(params json.RawMessage, dests ...interface{}) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(params, &raw); err != nil {
		return err
	}
	for i, d := range dests {
		if i >= len(raw) {
			break
		}
		if err := json.Unmarshal(raw[i], d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) getBlockchainInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	top, err := s.Query.GetTopConfirmed()
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	link, err := s.Query.ToConfirmed(top)
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	return map[string]interface{}{
		"blocks":    top,
		"bestblockhash": link.Hash.String(),
	}, nil
}

func (s *Server) getBlockHash(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []uint32
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, bserr.New(bserr.KindMissingHeight, "getblockhash requires a height argument")
	}
	link, err := s.Query.ToConfirmed(args[0])
	if err != nil {
		return nil, bserr.New(bserr.KindNotFound, "block height %d not found", args[0])
	}
	return link.Hash.String(), nil
}

func (s *Server) getBlockHeader(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args struct {
		Hash    string
		Verbose bool
	}
	if err := unmarshalPositional(params, &args.Hash, &args.Verbose); err != nil {
		return nil, bserr.New(bserr.KindMissingHash, "getblockheader requires a hash argument")
	}
	hash, err := parseHash(args.Hash)
	if err != nil {
		return nil, err
	}
	link, err := s.Query.ToHeader(hash)
	if err != nil {
		return nil, bserr.New(bserr.KindNotFound, "header %s not found", args.Hash)
	}
	hdr, err := s.Query.GetHeader(link)
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	if !args.Verbose {
		var buf bytes.Buffer
		if err := hdr.Header.Serialize(&buf); err != nil {
			return nil, bserr.Wrap(bserr.KindServerError, err)
		}
		return hex.EncodeToString(buf.Bytes()), nil
	}
	return map[string]interface{}{
		"hash":          hash.String(),
		"height":        hdr.Height,
		"version":       hdr.Header.Version,
		"time":          hdr.Header.Timestamp.Unix(),
		"bits":          hdr.Header.Bits,
		"previousblockhash": hdr.Header.PrevBlock.String(),
	}, nil
}

func (s *Server) getBlock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var (
		hashStr   string
		verbosity int
	)
	if err := unmarshalPositional(params, &hashStr, &verbosity); err != nil {
		return nil, bserr.New(bserr.KindMissingHash, "getblock requires a hash argument")
	}
	hash, err := parseHash(hashStr)
	if err != nil {
		return nil, err
	}
	link, err := s.Query.ToHeader(hash)
	if err != nil {
		return nil, bserr.New(bserr.KindNotFound, "block %s not found", hashStr)
	}
	block, err := s.Query.GetBlock(link, true)
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	if verbosity == 0 {
		var buf bytes.Buffer
		if err := block.Block.Serialize(&buf); err != nil {
			return nil, bserr.Wrap(bserr.KindServerError, err)
		}
		return hex.EncodeToString(buf.Bytes()), nil
	}

	txids := make([]string, len(block.Block.Transactions))
	for i, tx := range block.Block.Transactions {
		txids[i] = tx.TxHash().String()
	}
	return map[string]interface{}{
		"hash":   hash.String(),
		"height": block.Height,
		"tx":     txids,
	}, nil
}

func (s *Server) getRawTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []interface{}
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindMissingHash, "getrawtransaction requires a txid argument")
	}
	txidStr, ok := args[0].(string)
	if !ok {
		return nil, bserr.New(bserr.KindInvalidHash, "txid must be a string")
	}
	hash, err := parseHash(txidStr)
	if err != nil {
		return nil, err
	}

	verbose := false
	if len(args) > 1 {
		if b, ok := args[1].(bool); ok {
			verbose = b
		}
	}

	tx, err := s.Query.GetTransaction(hash, false, true)
	if err != nil {
		return nil, bserr.New(bserr.KindNotFound, "transaction %s not found", txidStr)
	}

	var raw string
	if tx.Tx != nil {
		var buf bytes.Buffer
		if err := tx.Tx.Serialize(&buf); err != nil {
			return nil, bserr.Wrap(bserr.KindServerError, err)
		}
		raw = hex.EncodeToString(buf.Bytes())
	}
	if !verbose {
		return raw, nil
	}
	return map[string]interface{}{
		"hex":       raw,
		"txid":      hash.String(),
		"confirmed": tx.Confirmed,
	}, nil
}

func (s *Server) sendRawTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindInvalidArgument, "sendrawtransaction requires a hex argument")
	}
	raw, err := hex.DecodeString(args[0])
	if err != nil {
		return nil, bserr.New(bserr.KindInvalidArgument, "malformed transaction hex")
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, bserr.New(bserr.KindInvalidArgument, "malformed transaction")
	}
	// Broadcast is outside the query facade's read-only contract; a
	// production wiring hands this to the node's mempool acceptance
	// path. Here we echo the computed txid, the part of the contract
	// this gateway core owns.
	return tx.TxHash().String(), nil
}

func (s *Server) estimateSmartFee(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []interface{}
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindMissingTarget, "estimatesmartfee requires a conf_target argument")
	}
	targetF, ok := args[0].(float64)
	if !ok {
		return nil, bserr.New(bserr.KindInvalidTarget, "conf_target must be a number")
	}
	mode := feeestimator.ModeConservative
	if len(args) > 1 {
		if m, ok := args[1].(string); ok && m == "ECONOMICAL" {
			mode = feeestimator.ModeEconomical
		}
	}

	rate := s.Estimator.Estimate(uint32(targetF), mode)
	if rate == feeestimator.NoEstimate {
		return map[string]interface{}{
			"errors": []string{"insufficient data or no feerate found"},
		}, nil
	}
	// bitcoind reports feerate in BTC/kvB; convert from our sat/vbyte.
	btcPerKvb := float64(rate) * 1000 / 1e8
	return map[string]interface{}{
		"feerate": btcPerKvb,
		"blocks":  uint32(targetF),
	}, nil
}

func (s *Server) getMempoolEntry(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindMissingHash, "getmempoolentry requires a txid argument")
	}
	hash, err := parseHash(args[0])
	if err != nil {
		return nil, err
	}
	tx, err := s.Query.GetTransaction(hash, false, false)
	if err != nil || tx.Confirmed {
		return nil, bserr.New(bserr.KindNotFound, "mempool entry %s not found", args[0])
	}
	return map[string]interface{}{
		"vsize": tx.Tx.SerializeSize(),
	}, nil
}

