package router

import (
	"sort"
	"strconv"
)

// Param is a single key/value pair of a Params list.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered mapping from parameter key to value. Named keys come
// from route configuration or embedding tokens, positional keys ("0", "1",
// ...) from the URL segments that follow a matched route prefix.
//
// The zero value is an empty, usable Params.
type Params []Param

// ParamsFromMap builds Params from a map. Go maps are unordered, so keys are
// sorted to keep results deterministic.
func ParamsFromMap(m map[string]string) Params {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := make(Params, 0, len(keys))
	for _, k := range keys {
		p = append(p, Param{Key: k, Value: m[k]})
	}
	return p
}

// Get returns the value stored under key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Value returns the value stored under key or the empty string.
func (p Params) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// Positional returns the i-th positional extra.
func (p Params) Positional(i int) (string, bool) {
	return p.Get(strconv.Itoa(i))
}

// Set stores value under key, replacing an existing entry in place so the
// original position is kept.
func (p Params) Set(key, value string) Params {
	for i, kv := range p {
		if kv.Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Key: key, Value: value})
}

// Merge returns a new Params holding p overlaid with other; values from other
// win on key collision.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	for _, kv := range other {
		out = out.Set(kv.Key, kv.Value)
	}
	return out
}

// Clone returns a copy of p that shares no storage with it.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// Extras returns the positional values in order.
func (p Params) Extras() []string {
	var out []string
	for i := 0; ; i++ {
		v, ok := p.Positional(i)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Map converts p to a plain map.
func (p Params) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, kv := range p {
		m[kv.Key] = kv.Value
	}
	return m
}

// Len returns the number of entries.
func (p Params) Len() int {
	return len(p)
}

// appendExtras appends values as positional params. Positions restart at the
// first free index so configured params never shift the extras.
func (p Params) appendExtras(values []string) Params {
	next := 0
	for {
		if _, ok := p.Positional(next); !ok {
			break
		}
		next++
	}
	for _, v := range values {
		p = p.Set(strconv.Itoa(next), v)
		next++
	}
	return p
}
