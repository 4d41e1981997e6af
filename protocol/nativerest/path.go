package nativerest

import (
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcsuite/bsd/bserr"
)

// PathRequest is the parsed form of one native REST path. Parse and
// PathRequest.String round-trip: String reconstructs exactly the path
// Parse accepted, which is what makes the grammar testable as an
// encode/decode pair rather than a bag of string comparisons.
type PathRequest struct {
	Version uint8

	// Component is the first grammar segment after the version: one of
	// top, address, tx, input, output, block.
	Component string

	// Hash is set for address/tx/input/output, and for block when
	// addressed by hash. HashHex preserves the exact hex the caller
	// sent so String can reproduce it.
	Hash    chainhash.Hash
	HashHex string

	// ByHeight is true when a block was addressed by height.
	ByHeight bool
	Height   uint32

	// Subcomponent is the optional trailing selector: confirmed,
	// unconfirmed, balance (address); header, details (tx); script,
	// witness (input); script, spender, spenders (output); header,
	// txs, details, tx, filter (block). Empty when absent.
	Subcomponent string

	// HasIndex/Index carry the <index> of input/output paths, the
	// <u32> of block/.../tx, or the <u8> of block/.../filter.
	HasIndex bool
	Index    uint32

	// Context is true for block/.../header/context. For
	// block/.../filter it holds the trailing hash|header selector in
	// FilterField instead.
	Context     bool
	FilterField string
}

// subcomponents per component; an entry's bool says whether the
// subcomponent takes a numeric index after it.
var txSubs = map[string]bool{"header": false, "details": false}
var addressSubs = map[string]bool{"confirmed": false, "unconfirmed": false, "balance": false}
var inputSubs = map[string]bool{"script": false, "witness": false}
var outputSubs = map[string]bool{"script": false, "spender": false, "spenders": false}

// Parse matches path (no query string) against the native REST
// grammar, returning a typed PathRequest or the specific error kind
// the grammar mandates for each malformed shape. It never panics on
// any input.
func Parse(path string) (PathRequest, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return PathRequest{}, bserr.New(bserr.KindEmptyPath, "empty path")
	}
	segs := strings.Split(trimmed, "/")

	var req PathRequest
	ver, err := parseVersion(segs[0])
	if err != nil {
		return PathRequest{}, err
	}
	req.Version = ver
	segs = segs[1:]

	if len(segs) == 0 || segs[0] == "" {
		return PathRequest{}, bserr.New(bserr.KindEmptyPath, "missing component")
	}
	req.Component = segs[0]
	rest := segs[1:]

	switch req.Component {
	case "top":
		return req, expectEnd(rest)
	case "address":
		return parseHashed(req, rest, addressSubs)
	case "tx":
		return parseHashed(req, rest, txSubs)
	case "input":
		return parseIndexed(req, rest, inputSubs)
	case "output":
		return parseIndexed(req, rest, outputSubs)
	case "block":
		return parseBlock(req, rest)
	default:
		return PathRequest{}, bserr.New(bserr.KindInvalidComponent, "unknown component %q", req.Component)
	}
}

func parseVersion(seg string) (uint8, error) {
	if len(seg) < 2 || seg[0] != 'v' {
		return 0, bserr.New(bserr.KindMissingVersion, "path must start with a version segment, e.g. v1")
	}
	n, err := parseNumber(seg[1:], 8)
	if err != nil {
		return 0, bserr.New(bserr.KindMissingVersion, "malformed version segment %q", seg)
	}
	return uint8(n), nil
}

// parseNumber enforces the grammar's numeric rule: ASCII digits only,
// no leading zero except the literal "0", fitting in bits.
func parseNumber(seg string, bits int) (uint64, error) {
	if seg == "" {
		return 0, bserr.New(bserr.KindInvalidNumber, "empty number")
	}
	if len(seg) > 1 && seg[0] == '0' {
		return 0, bserr.New(bserr.KindInvalidNumber, "leading zero in %q", seg)
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return 0, bserr.New(bserr.KindInvalidNumber, "non-digit in %q", seg)
		}
	}
	n, err := strconv.ParseUint(seg, 10, bits)
	if err != nil {
		return 0, bserr.New(bserr.KindInvalidNumber, "number %q out of range", seg)
	}
	return n, nil
}

// parseHash enforces the grammar's hash rule: exactly 64 lowercase hex
// characters, interpreted reversed-byte the way every Bitcoin hash is
// displayed.
func parseHash(seg string) (chainhash.Hash, error) {
	if len(seg) != chainhash.HashSize*2 {
		return chainhash.Hash{}, bserr.New(bserr.KindInvalidHash, "hash must be %d hex characters", chainhash.HashSize*2)
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return chainhash.Hash{}, bserr.New(bserr.KindInvalidHash, "invalid hex in hash %q", seg)
		}
	}
	h, err := chainhash.NewHashFromStr(seg)
	if err != nil {
		return chainhash.Hash{}, bserr.New(bserr.KindInvalidHash, "malformed hash %q", seg)
	}
	return *h, nil
}

func expectEnd(rest []string) error {
	if len(rest) > 0 {
		return bserr.New(bserr.KindExtraSegment, "unexpected trailing segment %q", rest[0])
	}
	return nil
}

// parseHashed handles address/<hash>[/<sub>] and tx/<hash>[/<sub>].
func parseHashed(req PathRequest, rest []string, subs map[string]bool) (PathRequest, error) {
	if len(rest) == 0 {
		return PathRequest{}, bserr.New(bserr.KindMissingHash, "%s requires a hash", req.Component)
	}
	h, err := parseHash(rest[0])
	if err != nil {
		return PathRequest{}, err
	}
	req.Hash = h
	req.HashHex = rest[0]
	rest = rest[1:]

	if len(rest) == 0 {
		return req, nil
	}
	if _, ok := subs[rest[0]]; !ok {
		return PathRequest{}, bserr.New(bserr.KindInvalidSubcomp, "unknown subcomponent %q", rest[0])
	}
	req.Subcomponent = rest[0]
	return req, expectEnd(rest[1:])
}

// parseIndexed handles input/<hash>[/<index>[/<sub>]] and
// output/<hash>[/<index>[/<sub>]].
func parseIndexed(req PathRequest, rest []string, subs map[string]bool) (PathRequest, error) {
	if len(rest) == 0 {
		return PathRequest{}, bserr.New(bserr.KindMissingHash, "%s requires a hash", req.Component)
	}
	h, err := parseHash(rest[0])
	if err != nil {
		return PathRequest{}, err
	}
	req.Hash = h
	req.HashHex = rest[0]
	rest = rest[1:]

	if len(rest) == 0 {
		return req, nil
	}
	idx, err := parseNumber(rest[0], 32)
	if err != nil {
		return PathRequest{}, err
	}
	req.HasIndex = true
	req.Index = uint32(idx)
	rest = rest[1:]

	if len(rest) == 0 {
		return req, nil
	}
	if _, ok := subs[rest[0]]; !ok {
		return PathRequest{}, bserr.New(bserr.KindInvalidSubcomp, "unknown subcomponent %q", rest[0])
	}
	req.Subcomponent = rest[0]
	return req, expectEnd(rest[1:])
}

// parseBlock handles block/(hash/<hash>|height/<u32>) followed by the
// optional header[/context] | txs | details | tx/<u32> |
// filter/<u8>[/hash|header] selector.
func parseBlock(req PathRequest, rest []string) (PathRequest, error) {
	if len(rest) == 0 {
		return PathRequest{}, bserr.New(bserr.KindMissingIDType, "block requires hash/<hash> or height/<u32>")
	}
	switch rest[0] {
	case "hash":
		if len(rest) < 2 {
			return PathRequest{}, bserr.New(bserr.KindMissingHash, "block/hash requires a hash")
		}
		h, err := parseHash(rest[1])
		if err != nil {
			return PathRequest{}, err
		}
		req.Hash = h
		req.HashHex = rest[1]
	case "height":
		if len(rest) < 2 {
			return PathRequest{}, bserr.New(bserr.KindMissingHeight, "block/height requires a height")
		}
		n, err := parseNumber(rest[1], 32)
		if err != nil {
			return PathRequest{}, err
		}
		req.ByHeight = true
		req.Height = uint32(n)
	default:
		return PathRequest{}, bserr.New(bserr.KindInvalidIDType, "unknown block id-type %q", rest[0])
	}
	rest = rest[2:]

	if len(rest) == 0 {
		return req, nil
	}
	req.Subcomponent = rest[0]
	rest = rest[1:]

	switch req.Subcomponent {
	case "header":
		if len(rest) == 0 {
			return req, nil
		}
		if rest[0] != "context" {
			return PathRequest{}, bserr.New(bserr.KindExtraSegment, "unexpected trailing segment %q", rest[0])
		}
		req.Context = true
		return req, expectEnd(rest[1:])
	case "txs", "details":
		return req, expectEnd(rest)
	case "tx":
		if len(rest) == 0 {
			return PathRequest{}, bserr.New(bserr.KindMissingPosition, "block tx requires a position")
		}
		n, err := parseNumber(rest[0], 32)
		if err != nil {
			return PathRequest{}, err
		}
		req.HasIndex = true
		req.Index = uint32(n)
		return req, expectEnd(rest[1:])
	case "filter":
		if len(rest) == 0 {
			return PathRequest{}, bserr.New(bserr.KindMissingTypeID, "block filter requires a type")
		}
		n, err := parseNumber(rest[0], 8)
		if err != nil {
			return PathRequest{}, err
		}
		req.HasIndex = true
		req.Index = uint32(n)
		rest = rest[1:]
		if len(rest) == 0 {
			return req, nil
		}
		if rest[0] != "hash" && rest[0] != "header" {
			return PathRequest{}, bserr.New(bserr.KindInvalidSubcomp, "unknown filter field %q", rest[0])
		}
		req.FilterField = rest[0]
		return req, expectEnd(rest[1:])
	default:
		return PathRequest{}, bserr.New(bserr.KindInvalidSubcomp, "unknown subcomponent %q", req.Subcomponent)
	}
}

// String reconstructs the exact path Parse accepted.
func (r PathRequest) String() string {
	var b strings.Builder
	b.WriteString("/v")
	b.WriteString(strconv.FormatUint(uint64(r.Version), 10))
	b.WriteByte('/')
	b.WriteString(r.Component)

	switch r.Component {
	case "top":
	case "address", "tx", "input", "output":
		b.WriteByte('/')
		b.WriteString(r.HashHex)
		if r.Component == "input" || r.Component == "output" {
			if r.HasIndex {
				b.WriteByte('/')
				b.WriteString(strconv.FormatUint(uint64(r.Index), 10))
			}
		}
		if r.Subcomponent != "" {
			b.WriteByte('/')
			b.WriteString(r.Subcomponent)
		}
	case "block":
		if r.ByHeight {
			b.WriteString("/height/")
			b.WriteString(strconv.FormatUint(uint64(r.Height), 10))
		} else {
			b.WriteString("/hash/")
			b.WriteString(r.HashHex)
		}
		if r.Subcomponent != "" {
			b.WriteByte('/')
			b.WriteString(r.Subcomponent)
			switch r.Subcomponent {
			case "header":
				if r.Context {
					b.WriteString("/context")
				}
			case "tx", "filter":
				b.WriteByte('/')
				b.WriteString(strconv.FormatUint(uint64(r.Index), 10))
				if r.FilterField != "" {
					b.WriteByte('/')
					b.WriteString(r.FilterField)
				}
			}
		}
	}
	return b.String()
}
