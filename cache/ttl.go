package cache

import "time"

type ttlKind int

const (
	ttlUnset ttlKind = iota
	ttlNone
	ttlDuration
)

// TTL is the three-valued default-parameter sentinel spec §9 calls for:
// a bare *time.Duration conflates "use the cache's default" with "no
// expiry" whenever a caller wants the latter but the zero value already
// means the former. TTLUnset (the zero value of TTL) means "use
// Options.DefaultTTL"; TTLNone means "never expire", overriding any
// DefaultTTL; TTLDuration(d) sets an explicit per-entry TTL.
type TTL struct {
	kind ttlKind
	d    time.Duration
}

// TTLUnset is the zero value: defer to the cache's configured DefaultTTL.
var TTLUnset = TTL{kind: ttlUnset}

// TTLNone means the entry never expires, regardless of DefaultTTL.
var TTLNone = TTL{kind: ttlNone}

// TTLDuration sets an explicit per-entry time-to-live.
func TTLDuration(d time.Duration) TTL { return TTL{kind: ttlDuration, d: d} }

// resolve applies spec §4.5's three-way TTL precedence: an explicit
// override (TTLNone or TTLDuration) always wins over the cache default.
func (t TTL) resolve(def TTL) TTL {
	if t.kind == ttlUnset {
		return def
	}
	return t
}

// expiryAt converts a resolved TTL into an absolute UnixNano deadline
// (0 = no expiry), matching store.Store.Put's expiry contract.
func (t TTL) expiryAt(nowUnixNano int64) int64 {
	if t.kind != ttlDuration {
		return 0
	}
	return nowUnixNano + t.d.Nanoseconds()
}
