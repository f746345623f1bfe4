package util

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// SetKey returns a deterministic key for an unordered set of members: the
// member count plus a short hash over the sorted members. Duplicates count once.
func SetKey(members []string) string {
	s := make([]string, len(members))
	copy(s, members)
	sort.Strings(s)
	uniq := s[:0]
	for i, m := range s {
		if i > 0 && m == s[i-1] {
			continue
		}
		uniq = append(uniq, m)
	}
	sum := sha256.Sum256([]byte(strings.Join(uniq, ",")))
	return strings.Join([]string{"set", strconv.Itoa(len(uniq)), hex.EncodeToString(sum[:8])}, ":")
}
