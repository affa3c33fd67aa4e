package framestack

import (
	"encoding/json"
	"fmt"
)

// Params are format specific open parameters. They must survive a JSON round
// trip, so numbers may come back as float64 and lists as []interface{}.
type Params map[string]interface{}

// String returns the string value of key.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", configErrorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", configErrorf("parameter %q: want string, got %T", key, v)
	}
	return s, nil
}

// Int returns the integer value of key, or def when key is absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, configErrorf("parameter %q: %v", key, err)
	}
	return n, nil
}

// Ints returns the integer list value of key.
func (p Params) Ints(key string) ([]int, error) {
	v, ok := p[key]
	if !ok {
		return nil, configErrorf("missing parameter %q", key)
	}
	switch x := v.(type) {
	case []int:
		return append([]int(nil), x...), nil
	case []interface{}:
		out := make([]int, len(x))
		for i, e := range x {
			n, err := toInt(e)
			if err != nil {
				return nil, configErrorf("parameter %q element %d: %v", key, i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, configErrorf("parameter %q: want list of ints, got %T", key, v)
	}
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

func toInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case json.Number:
		n, err := x.Int64()
		return int(n), err
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}
