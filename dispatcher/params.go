package dispatcher

import (
	"encoding/json"
	"math"

	"github.com/btcsuite/bsd/bserr"
)

// ParamKind is the semantic type a declared parameter is validated
// against before its handler runs.
type ParamKind int

const (
	ParamString ParamKind = iota
	ParamNumber
	ParamInteger
	ParamBool
	ParamObject
	ParamArray
	// ParamAny skips type validation for this slot, used where a
	// method genuinely accepts more than one shape (e.g. electrum's
	// client_protocol_version, a string or a [min,max] pair).
	ParamAny
)

// Param declares one slot of a method's parameter tuple.
type Param struct {
	// Name keys the slot when a caller supplies named params; order in
	// the Method.Params slice keys it positionally.
	Name string
	Kind ParamKind
	// Required slots must be supplied by the caller; optional slots
	// are filled from Default when absent.
	Required bool
	// Default is marshaled into the slot when an optional param is
	// absent. nil produces a JSON null.
	Default interface{}
	// Nullable permits an explicit null in place of a typed value.
	Nullable bool
}

// normalizeParams validates raw against the declared tuple and returns
// the normalized positional array: named params are reordered, missing
// optional slots are filled from defaults, and every supplied value is
// checked against its declared kind. Extra trailing positional params
// beyond the declared tuple are tolerated and dropped, matching
// bitcoind's own leniency toward older clients.
func normalizeParams(decl []Param, raw json.RawMessage) (json.RawMessage, error) {
	supplied, err := splitParams(decl, raw)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, len(decl))
	for i, p := range decl {
		v, ok := supplied[i]
		if !ok {
			if p.Required {
				return nil, bserr.New(bserr.KindInvalidArgument, "missing required parameter %q", p.Name)
			}
			def, err := json.Marshal(p.Default)
			if err != nil {
				return nil, bserr.Wrap(bserr.KindServerError, err)
			}
			out[i] = def
			continue
		}
		if err := checkKind(p, v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return json.Marshal(out)
}

// splitParams decodes raw as either a positional array or a named
// object, returning supplied values indexed by declared slot.
func splitParams(decl []Param, raw json.RawMessage) (map[int]json.RawMessage, error) {
	supplied := make(map[int]json.RawMessage)
	if len(raw) == 0 || string(raw) == "null" {
		return supplied, nil
	}

	var positional []json.RawMessage
	if err := json.Unmarshal(raw, &positional); err == nil {
		for i, v := range positional {
			if i >= len(decl) {
				break
			}
			supplied[i] = v
		}
		return supplied, nil
	}

	var named map[string]json.RawMessage
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, bserr.New(bserr.KindInvalidArgument, "params must be an array or object")
	}
	for i, p := range decl {
		if v, ok := named[p.Name]; ok {
			supplied[i] = v
		}
	}
	return supplied, nil
}

func checkKind(p Param, v json.RawMessage) error {
	if string(v) == "null" {
		if p.Nullable {
			return nil
		}
		return bserr.New(bserr.KindInvalidArgument, "parameter %q must not be null", p.Name)
	}

	switch p.Kind {
	case ParamAny:
		return nil
	case ParamString:
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return bserr.New(bserr.KindInvalidArgument, "parameter %q must be a string", p.Name)
		}
	case ParamNumber:
		var f float64
		if err := json.Unmarshal(v, &f); err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return bserr.New(bserr.KindInvalidArgument, "parameter %q must be a finite number", p.Name)
		}
	case ParamInteger:
		var f float64
		if err := json.Unmarshal(v, &f); err != nil || f != math.Trunc(f) ||
			f > math.MaxInt64 || f < math.MinInt64 {
			return bserr.New(bserr.KindInvalidArgument, "parameter %q must be an integer", p.Name)
		}
	case ParamBool:
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return bserr.New(bserr.KindInvalidArgument, "parameter %q must be a boolean", p.Name)
		}
	case ParamObject:
		var m map[string]json.RawMessage
		if err := json.Unmarshal(v, &m); err != nil {
			return bserr.New(bserr.KindInvalidArgument, "parameter %q must be an object", p.Name)
		}
	case ParamArray:
		var a []json.RawMessage
		if err := json.Unmarshal(v, &a); err != nil {
			return bserr.New(bserr.KindInvalidArgument, "parameter %q must be an array", p.Name)
		}
	}
	return nil
}
