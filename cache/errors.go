package cache

import (
	"errors"
	"fmt"

	"github.com/asyncflight/cache/internal/batch"
)

// ErrBothLoaders is returned synchronously, before any state mutation,
// when a Get call supplies both WithLoader and WithBatchLoader — the two
// loader kinds are mutually exclusive (programmer error, spec §7).
var ErrBothLoaders = errors.New("cache: at most one of WithLoader/WithBatchLoader may be supplied")

// ErrBatchLengthMismatch guards against a batch loader that returns a
// result map with keys absent from the batch it was handed (spec §7). The
// detection lives in internal/batch, where the requested key set is known;
// this is an alias so callers can errors.Is against the cache package
// without reaching into internal/batch themselves.
var ErrBatchLengthMismatch = batch.ErrLengthMismatch

// ErrAbsent distinguishes "key not present and no loader supplied" from a
// genuinely stored zero value (spec §6's absent-value indicator note).
var ErrAbsent = errors.New("cache: key not present and no loader supplied")

// LoaderError wraps a loader or batch-loader failure with the key it was
// loading, so callers can log or branch on the key without parsing error
// text.
type LoaderError struct {
	Key any
	Err error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("cache: loader for key %v: %v", e.Key, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }
