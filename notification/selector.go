package notification

import (
	"bytes"

	"github.com/kkdai/bstream"

	"github.com/btcsuite/bsd/bserr"
)

// Selector is a variable-length, MSB-first bit prefix: a subscription
// matches any event key whose leading Bits-length-many bits equal
// Bits. This is how address-prefix and script-hash-prefix
// subscriptions narrow a full 160/256-bit key down to whatever
// granularity the caller asked for (e.g. the first 12 bits of an
// address hash, for a wallet watching a derivation range).
type Selector struct {
	Bits   []byte
	NumBits int
}

// MaxSelectorBits bounds a selector at the widest field the gateway
// matches against, a 256-bit script hash.
const MaxSelectorBits = 256

// NewSelector validates the (bit_length, bytes) binary shape: the byte
// slice must be exactly ⌈bits/8⌉ long and bits must fit the widest
// matchable field. A malformed pair is a wire-level defect, so the
// error kind is bad_stream rather than invalid_argument.
func NewSelector(bits []byte, numBits int) (Selector, error) {
	if numBits < 0 || numBits > MaxSelectorBits {
		return Selector{}, bserr.New(bserr.KindBadStream, "selector bit length %d out of range", numBits)
	}
	if len(bits) != (numBits+7)/8 {
		return Selector{}, bserr.New(bserr.KindBadStream,
			"selector carries %d bytes for %d bits", len(bits), numBits)
	}
	return Selector{Bits: bits, NumBits: numBits}, nil
}

// FullKey returns a Selector that matches key exactly.
func FullKey(key []byte) Selector {
	return Selector{Bits: key, NumBits: len(key) * 8}
}

func (s Selector) validate() error {
	_, err := NewSelector(s.Bits, s.NumBits)
	return err
}

// Match reports whether key's leading NumBits bits equal s.Bits's
// leading NumBits bits, comparing MSB-first a bit at a time via
// bstream so a prefix need not be byte-aligned.
func (s Selector) Match(key []byte) bool {
	if s.NumBits == 0 {
		return true
	}
	if s.NumBits > len(key)*8 {
		return false
	}

	want := bstream.NewBStreamReader(s.Bits)
	got := bstream.NewBStreamReader(key)

	for i := 0; i < s.NumBits; i++ {
		wb, err := want.ReadBit()
		if err != nil {
			return false
		}
		gb, err := got.ReadBit()
		if err != nil {
			return false
		}
		if wb != gb {
			return false
		}
	}
	return true
}

// Equal reports whether two selectors denote the same prefix, used to
// detect a duplicate subscription tuple.
func (s Selector) Equal(other Selector) bool {
	if s.NumBits != other.NumBits {
		return false
	}
	nbytes := (s.NumBits + 7) / 8
	return bytes.Equal(truncate(s.Bits, nbytes), truncate(other.Bits, nbytes))
}

func truncate(b []byte, n int) []byte {
	if n > len(b) {
		n = len(b)
	}
	return b[:n]
}
