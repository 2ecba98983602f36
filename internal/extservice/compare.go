// internal/extservice/compare.go
package extservice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Wildcard as an expected value matches any value that is present.
const Wildcard = "*"

// CompareOptions controls how an expected body is matched.
type CompareOptions struct {
	// IgnoreArrayOrder sorts arrays on both sides before comparing.
	IgnoreArrayOrder bool
	// EquateEmpty treats null, {} and [] as equal to one another's absence.
	EquateEmpty bool
}

// DefaultCompareOptions is what Check uses.
func DefaultCompareOptions() CompareOptions {
	return CompareOptions{EquateEmpty: true}
}

// BodyDiff reports how actual fails to satisfy expected, or "" when it does.
// Objects in expected are a subset: keys absent from expected are ignored in
// actual. Arrays and scalars must match exactly.
func BodyDiff(expected, actual []byte, opts CompareOptions) (string, error) {
	if len(bytes.TrimSpace(expected)) == 0 {
		return "", nil
	}
	want, err := decode(expected)
	if err != nil {
		return "", fmt.Errorf("expected body is not JSON: %w", err)
	}
	got, err := decode(actual)
	if err != nil {
		return fmt.Sprintf("response body is not JSON (%d bytes)", len(actual)), nil
	}

	projected := project(want, got)
	return cmp.Diff(want, projected, compareOptions(opts)...), nil
}

func decode(b []byte) (interface{}, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	// Numbers stay as written so 1 and 1.0 compare by value, not by float rounding.
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// project trims actual down to the shape of expected and substitutes the
// wildcard wherever expected holds one and actual has a value.
func project(expected, actual interface{}) interface{} {
	if s, ok := expected.(string); ok && s == Wildcard && actual != nil {
		return Wildcard
	}
	switch want := expected.(type) {
	case map[string]interface{}:
		got, ok := actual.(map[string]interface{})
		if !ok {
			return actual
		}
		out := make(map[string]interface{}, len(want))
		for k, wv := range want {
			if gv, present := got[k]; present {
				out[k] = project(wv, gv)
			}
		}
		return out
	case []interface{}:
		got, ok := actual.([]interface{})
		if !ok || len(got) != len(want) {
			return actual
		}
		out := make([]interface{}, len(got))
		for i := range got {
			out[i] = project(want[i], got[i])
		}
		return out
	}
	return actual
}

func compareOptions(opts CompareOptions) cmp.Options {
	cmpOpts := cmp.Options{cmp.Comparer(numbersEqual)}
	if opts.EquateEmpty {
		cmpOpts = append(cmpOpts, equateEmpty())
	}
	if opts.IgnoreArrayOrder {
		cmpOpts = append(cmpOpts, cmpopts.SortSlices(sliceLess))
	}
	return cmpOpts
}

func numbersEqual(x, y json.Number) bool {
	fx, errX := x.Float64()
	fy, errY := y.Float64()
	if errX != nil || errY != nil {
		return x == y
	}
	return fx == fy
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Len() == 0
	}
	return false
}

// equateEmpty extends cmpopts.EquateEmpty to JSON null, which decodes to a
// nil interface.
func equateEmpty() cmp.Option {
	return cmp.FilterValues(
		func(x, y interface{}) bool { return isEmpty(x) && isEmpty(y) },
		cmp.Comparer(func(x, y interface{}) bool {
			if x == nil || y == nil {
				return true
			}
			// {} and [] are both empty but still differ.
			return reflect.ValueOf(x).Kind() == reflect.ValueOf(y).Kind()
		}),
	)
}

func sliceLess(x, y interface{}) bool {
	nx, okX := x.(json.Number)
	ny, okY := y.(json.Number)
	if okX && okY {
		fx, errX := nx.Float64()
		fy, errY := ny.Float64()
		if errX == nil && errY == nil {
			return fx < fy
		}
		return nx < ny
	}

	vx, vy := reflect.ValueOf(x), reflect.ValueOf(y)
	if !vx.IsValid() {
		return vy.IsValid()
	}
	if !vy.IsValid() {
		return false
	}
	if vx.Type() != vy.Type() {
		return vx.Type().String() < vy.Type().String()
	}
	switch vx.Kind() {
	case reflect.String:
		return vx.String() < vy.String()
	case reflect.Bool:
		return !vx.Bool() && vy.Bool()
	default:
		return fmt.Sprint(x) < fmt.Sprint(y)
	}
}
