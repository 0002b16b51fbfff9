package identity

import (
	"hash/fnv"
	"strconv"

	"github.com/google/uuid"
)

// Hash returns the 32-bit FNV-1a hash of s rendered in base 36
func Hash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// randomBase36 returns n random characters drawn from UUID v4 entropy.
// Bytes 6 and 8 carry the version and variant bits and are skipped.
func randomBase36(n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		u := uuid.New()
		for i, b := range u {
			if i == 6 || i == 8 {
				continue
			}
			out = append(out, base36[int(b)%len(base36)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
