package nativerest

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/query"
)

func newTestServer() *Server {
	genesis := chaincfg.MainNetParams.GenesisBlock
	return New(query.NewMock(genesis), feeestimator.New())
}

func TestResolveBlockByHeight(t *testing.T) {
	s := newTestServer()
	result, err := s.Resolve("/v1/block/height/0")
	require.NoError(t, err)

	body, ok := result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, chaincfg.MainNetParams.GenesisBlock.BlockHash().String(), body["hash"])
}

func TestResolveTxEmptyHashIsInvalidHash(t *testing.T) {
	s := newTestServer()
	_, err := s.Resolve("/v1/tx//header")
	require.Error(t, err)
	kind, ok := bserr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bserr.KindInvalidHash, kind)
}

func TestResolveTop(t *testing.T) {
	s := newTestServer()
	result, err := s.Resolve("/v1/top")
	require.NoError(t, err)
	body, ok := result.(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 0, body["height"])
	require.Equal(t, chaincfg.MainNetParams.GenesisBlock.BlockHash().String(), body["hash"])
}

func TestResolveBlockTxByPosition(t *testing.T) {
	s := newTestServer()
	result, err := s.Resolve("/v1/block/height/0/tx/0")
	require.NoError(t, err)
	body, ok := result.(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, body["txid"])
}

// TestParseErrors pins the specific error kind the grammar mandates
// for each malformed path shape.
func TestParseErrors(t *testing.T) {
	validHash := chaincfg.MainNetParams.GenesisBlock.BlockHash().String()
	tests := []struct {
		name string
		path string
		kind bserr.Kind
	}{
		{"no version", "/block/height/0", bserr.KindMissingVersion},
		{"bad version", "/vx/top", bserr.KindMissingVersion},
		{"empty", "/", bserr.KindEmptyPath},
		{"unknown component", "/v1/nonsense", bserr.KindInvalidComponent},
		{"top extra segment", "/v1/top/extra", bserr.KindExtraSegment},
		{"block missing id type", "/v1/block", bserr.KindMissingIDType},
		{"block unknown id type", "/v1/block/slot/0", bserr.KindInvalidIDType},
		{"block leading zero height", "/v1/block/height/007", bserr.KindInvalidNumber},
		{"block negative height", "/v1/block/height/-1", bserr.KindInvalidNumber},
		{"block short hash", "/v1/block/hash/abcd", bserr.KindInvalidHash},
		{"block uppercase hash", "/v1/block/hash/" + "AB" + validHash[2:], bserr.KindInvalidHash},
		{"block bad subcomponent", "/v1/block/height/0/extra", bserr.KindInvalidSubcomp},
		{"block txs trailing", "/v1/block/height/0/txs/more", bserr.KindExtraSegment},
		{"block header bad trailing", "/v1/block/height/0/header/more", bserr.KindExtraSegment},
		{"block tx missing position", "/v1/block/height/0/tx", bserr.KindMissingPosition},
		{"block filter missing type", "/v1/block/height/0/filter", bserr.KindMissingTypeID},
		{"tx missing hash", "/v1/tx", bserr.KindMissingHash},
		{"tx bad subcomponent", "/v1/tx/" + validHash + "/nope", bserr.KindInvalidSubcomp},
		{"input bad index", "/v1/input/" + validHash + "/01", bserr.KindInvalidNumber},
		{"output bad subcomponent", "/v1/output/" + validHash + "/0/nope", bserr.KindInvalidSubcomp},
		{"address missing hash", "/v1/address", bserr.KindMissingHash},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.path)
			require.Error(t, err)
			kind, ok := bserr.KindOf(err)
			require.True(t, ok)
			require.Equal(t, tc.kind, kind)
		})
	}
}

// TestParseRoundTrip covers the encode(decode(x)) == x property for
// well-formed paths across the whole grammar.
func TestParseRoundTrip(t *testing.T) {
	h := chaincfg.MainNetParams.GenesisBlock.BlockHash().String()
	paths := []string{
		"/v1/top",
		"/v1/address/" + h,
		"/v1/address/" + h + "/confirmed",
		"/v1/address/" + h + "/unconfirmed",
		"/v1/address/" + h + "/balance",
		"/v1/tx/" + h,
		"/v1/tx/" + h + "/header",
		"/v1/tx/" + h + "/details",
		"/v1/input/" + h,
		"/v1/input/" + h + "/0",
		"/v1/input/" + h + "/3/script",
		"/v1/input/" + h + "/3/witness",
		"/v1/output/" + h,
		"/v1/output/" + h + "/1",
		"/v1/output/" + h + "/1/script",
		"/v1/output/" + h + "/1/spender",
		"/v1/output/" + h + "/1/spenders",
		"/v1/block/hash/" + h,
		"/v1/block/height/0",
		"/v1/block/height/100",
		"/v1/block/height/100/header",
		"/v1/block/height/100/header/context",
		"/v1/block/height/100/txs",
		"/v1/block/height/100/details",
		"/v1/block/height/100/tx/7",
		"/v1/block/height/100/filter/0",
		"/v1/block/height/100/filter/0/hash",
		"/v1/block/height/100/filter/0/header",
		"/v2/top",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			parsed, err := Parse(p)
			require.NoError(t, err)
			require.Equal(t, p, parsed.String())
		})
	}
}

func TestNegotiateMedia(t *testing.T) {
	tests := []struct {
		name   string
		format string
		accept string
		want   Media
		ok     bool
	}{
		{"default", "", "", MediaJSON, true},
		{"format wins over accept", "data", "text/html", MediaData, true},
		{"accept json", "", "application/json", MediaJSON, true},
		{"accept html", "", "text/html", MediaHTML, true},
		{"accept text", "", "text/plain", MediaText, true},
		{"accept data", "", "application/octet-stream", MediaData, true},
		{"accept wildcard", "", "*/*", MediaJSON, true},
		{"json beats html in accept", "", "text/html, application/json", MediaJSON, true},
		{"unknown format", "xml", "", 0, false},
		{"unacceptable accept", "", "image/png", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := negotiateMedia(tc.format, tc.accept)
			require.Equal(t, tc.ok, ok)
			if ok {
				require.Equal(t, tc.want, m)
			}
		})
	}
}

func TestResolveWitnessOption(t *testing.T) {
	s := newTestServer()
	_, err := s.Resolve("/v1/block/height/0?witness=false")
	require.NoError(t, err)

	_, err = s.Resolve("/v1/block/height/0?witness=maybe")
	require.Error(t, err)
	kind, _ := bserr.KindOf(err)
	require.Equal(t, bserr.KindInvalidArgument, kind)
}

func TestResolveOutputSpenderNotImplemented(t *testing.T) {
	s := newTestServer()
	genesisCoinbase := chaincfg.MainNetParams.GenesisBlock.Transactions[0].TxHash().String()
	_, err := s.Resolve("/v1/output/" + genesisCoinbase + "/0/spender")
	require.Error(t, err)
	kind, _ := bserr.KindOf(err)
	require.Equal(t, bserr.KindNotImplemented, kind)
}
