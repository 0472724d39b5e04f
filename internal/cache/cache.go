package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cache stores successful results of pure and read-only tool calls. A zero
// ttl means the entry never expires (pure tools); impure tools never reach
// the cache at all.
type Cache interface {
	Get(tool, key string) (any, bool)
	Put(tool, key string, value any, ttl time.Duration)
}

// NormalizeInput renders an input mapping into a deterministic cache key:
// keys are sorted recursively before encoding, so semantically identical
// inputs always hash to the same key.
func NormalizeInput(input map[string]any) string {
	var sb strings.Builder
	writeCanonical(&sb, input)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			enc, _ := json.Marshal(k)
			sb.Write(enc)
			sb.WriteByte(':')
			writeCanonical(sb, val[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			enc = []byte(fmt.Sprintf("%q", fmt.Sprint(val)))
		}
		sb.Write(enc)
	}
}
