package schedule

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// ConfigHash returns a deterministic digest of the descriptor's semantic
// fields (cron, timezone, entrypoint, model, materialized input).
//
// Two descriptors with identical semantic content produce the same hash
// independent of input key ordering: the digest is taken over canonical JSON
// (encoding/json sorts map keys at every level). Volatile fields such as
// last-run timestamps never participate.
func (d Descriptor) ConfigHash() string {
	sem := map[string]any{
		"cron":       strings.TrimSpace(d.Cron),
		"timezone":   strings.TrimSpace(d.TimeZone),
		"entrypoint": strings.TrimSpace(d.Entrypoint),
		"input":      d.Materialize(),
	}
	b, err := json.Marshal(sem)
	if err != nil {
		// Maps of JSON-representable config values cannot fail to marshal;
		// treat anything else as an empty payload rather than panicking.
		b = nil
	}
	return fmt.Sprintf("%016x", hashBytes(b))
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
