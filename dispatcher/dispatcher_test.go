package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcsuite/bsd/bserr"
)

func echoTable() Table {
	return NewTable(Method{
		Name: "echo",
		Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var args []string
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, bserr.Wrap(bserr.KindInvalidArgument, err)
			}
			if len(args) == 0 {
				return nil, bserr.New(bserr.KindInvalidArgument, "echo requires one argument")
			}
			return args[0], nil
		},
	})
}

func TestDispatchKnownMethod(t *testing.T) {
	table := echoTable()
	req := Request{Version: "2.0", ID: json.RawMessage(`1`), Method: "echo", Params: json.RawMessage(`["hi"]`)}

	resp := Dispatch(context.Background(), table, req)
	require.Nil(t, resp.Error)
	require.Equal(t, "hi", resp.Result)
}

func TestDispatchUnknownMethod(t *testing.T) {
	table := echoTable()
	req := Request{Version: "2.0", ID: json.RawMessage(`1`), Method: "nope"}

	resp := Dispatch(context.Background(), table, req)
	require.NotNil(t, resp.Error)
	require.Equal(t, bserr.RPCCode(bserr.Sentinel(bserr.KindMethodNotFound)), resp.Error.Code)
}

func TestDispatchHandlerError(t *testing.T) {
	table := echoTable()
	req := Request{Version: "2.0", ID: json.RawMessage(`1`), Method: "echo", Params: json.RawMessage(`[]`)}

	resp := Dispatch(context.Background(), table, req)
	require.NotNil(t, resp.Error)
	require.Equal(t, bserr.RPCCode(bserr.Sentinel(bserr.KindInvalidArgument)), resp.Error.Code)
}

func typedTable(got *json.RawMessage) Table {
	return NewTable(Method{
		Name: "typed",
		Params: []Param{
			{Name: "hash", Kind: ParamString, Required: true},
			{Name: "verbose", Kind: ParamBool, Default: true},
			{Name: "count", Kind: ParamInteger, Default: 10},
		},
		Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			*got = params
			return "ok", nil
		},
	})
}

func typedRequest(params string) Request {
	return Request{
		Version: "2.0", ID: json.RawMessage(`1`), Method: "typed",
		Params: json.RawMessage(params),
	}
}

func TestDispatchTypedParams(t *testing.T) {
	var got json.RawMessage
	table := typedTable(&got)

	t.Run("defaults filled", func(t *testing.T) {
		resp := Dispatch(context.Background(), table, typedRequest(`["abcd"]`))
		require.Nil(t, resp.Error)
		require.JSONEq(t, `["abcd", true, 10]`, string(got))
	})

	t.Run("named params reordered", func(t *testing.T) {
		resp := Dispatch(context.Background(), table, typedRequest(`{"count": 3, "hash": "ff"}`))
		require.Nil(t, resp.Error)
		require.JSONEq(t, `["ff", true, 3]`, string(got))
	})

	t.Run("missing required", func(t *testing.T) {
		resp := Dispatch(context.Background(), table, typedRequest(`[]`))
		require.NotNil(t, resp.Error)
		require.Equal(t, bserr.RPCCode(bserr.Sentinel(bserr.KindInvalidArgument)), resp.Error.Code)
	})

	t.Run("wrong type", func(t *testing.T) {
		resp := Dispatch(context.Background(), table, typedRequest(`[42]`))
		require.NotNil(t, resp.Error)
	})

	t.Run("non-integer number", func(t *testing.T) {
		resp := Dispatch(context.Background(), table, typedRequest(`["abcd", true, 1.5]`))
		require.NotNil(t, resp.Error)
	})

	t.Run("extra trailing params tolerated", func(t *testing.T) {
		resp := Dispatch(context.Background(), table, typedRequest(`["abcd", false, 2, "legacy", 9]`))
		require.Nil(t, resp.Error)
		require.JSONEq(t, `["abcd", false, 2]`, string(got))
	})
}

func TestIsNotification(t *testing.T) {
	req := Request{Version: "2.0"}
	require.True(t, req.IsNotification())

	req.ID = json.RawMessage(`1`)
	require.False(t, req.IsNotification())
}
