// Package keycodec implements KeyCodec (spec §4.2): deriving a stable,
// hash/eq-correct Key from a call signature (operation identity, a
// positional-argument slice with a skippable prefix, and a named-argument
// map with the use_cache sentinel stripped).
//
// Grounded on original_source/cache/key.py's KEY/make_key: sorted kwargs,
// recursive canonicalisation of nested structures, and — critically — no
// mutation of the caller's argument bag (key.py's own docstring narrates
// fixing a predecessor that called kwargs.pop on the caller's dict).
package keycodec

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/asyncflight/cache/internal/util"
)

// useCacheSentinel is the decorator-only parameter name stripped from
// named args before hashing (spec §4.2).
const useCacheSentinel = "use_cache"

// Key is an opaque, immutable, comparable token. Two Keys derived from
// call signatures the caller considers equivalent compare Equal and share
// Hash; Equal is defined over the full canonical form, not just the hash,
// so hash collisions can never produce false equality.
type Key struct {
	op    string
	hash  uint64
	canon string
}

// Hash returns the 64-bit hash of the key's canonical form.
func (k Key) Hash() uint64 { return k.hash }

// Equal reports whether two keys were derived from equivalent call
// signatures.
func (k Key) Equal(other Key) bool { return k.canon == other.canon }

// String returns the canonical textual form (useful for logging/debugging
// only; not part of the equality contract beyond being its input).
func (k Key) String() string { return k.canon }

// Make derives a Key from (op, args, kwargs, skip) per spec §4.2.
//
//   - args[skip:] participates in the key; args[:skip] is dropped (e.g. to
//     exclude a method receiver from decorator-derived keys).
//   - kwargs is copied before the use_cache entry is removed, so the
//     caller's map is left untouched.
//   - Compound values canonicalise recursively; maps are rendered in
//     sorted-key order so insertion order never affects the result.
func Make(op string, args []any, kwargs map[string]any, skip int) Key {
	switch {
	case skip <= 0:
		// no-op
	case skip >= len(args):
		args = nil
	default:
		args = args[skip:]
	}

	clean := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if k == useCacheSentinel {
			continue
		}
		clean[k] = v
	}

	var b strings.Builder
	b.WriteString(op)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(canon(a))
	}
	b.WriteString(");{")

	names := make([]string, 0, len(clean))
	for k := range clean {
		names = append(names, k)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(canon(clean[name]))
	}
	b.WriteByte('}')

	s := b.String()
	return Key{op: op, hash: util.Fnv64a(s), canon: s}
}

// canon renders v into a stable textual form. Tuples/slices/arrays recurse
// positionally; maps recurse with entries sorted by their own canonical
// form (so insertion order never matters); structs recurse over exported
// fields sorted by name (the Go analogue of key.py's "str(sorted(vars(
// param).items()))" for opaque objects); everything else falls back to a
// stable %#v rendering.
func canon(v any) string {
	if v == nil {
		return "<nil>"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "<nil>"
		}
		return canon(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		var b strings.Builder
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canon(rv.Index(i).Interface()))
		}
		b.WriteByte(']')
		return b.String()
	case reflect.Map:
		type pair struct{ k, v string }
		keys := rv.MapKeys()
		pairs := make([]pair, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, pair{canon(k.Interface()), canon(rv.MapIndex(k).Interface())})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
		var b strings.Builder
		b.WriteByte('{')
		for i, p := range pairs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(p.k)
			b.WriteByte(':')
			b.WriteString(p.v)
		}
		b.WriteByte('}')
		return b.String()
	case reflect.Struct:
		t := rv.Type()
		type field struct{ name, val string }
		fields := make([]field, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			fields = append(fields, field{f.Name, canon(rv.Field(i).Interface())})
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
		var b strings.Builder
		b.WriteString(t.Name())
		b.WriteByte('{')
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(f.name)
			b.WriteByte('=')
			b.WriteString(f.val)
		}
		b.WriteByte('}')
		return b.String()
	default:
		return fmt.Sprintf("%#v", v)
	}
}
