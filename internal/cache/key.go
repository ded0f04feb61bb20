package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// NoKey is returned by Key for filters that cannot be hashed. Get always
// misses on it and Set ignores it, so such lookups bypass the cache.
const NoKey = ""

// Key builds a composite key of the form entity:org:<org>:scope:<scope>:<digest>.
// The org and scope segments are delimited so that Invalidate(OrgPattern(org))
// or Invalidate(ScopePattern(id)) matches exactly the keys for that tenant or
// account.
func Key(entity Entity, org, scope string, filters any) string {
	sum, ok := digest(filters)
	if !ok {
		return NoKey
	}

	var b strings.Builder
	b.WriteString(string(entity))
	b.WriteString(":org:")
	b.WriteString(org)
	b.WriteString(":scope:")
	b.WriteString(scope)
	b.WriteString(":")
	b.WriteString(sum)
	return b.String()
}

// OrgPattern matches every key for an organization.
func OrgPattern(org string) string {
	return ":org:" + org + ":"
}

// EntityPattern matches every key of one entity for an organization.
func EntityPattern(entity Entity, org string) string {
	return string(entity) + ":org:" + org + ":"
}

// ScopePattern matches every key scoped to an account or statement.
func ScopePattern(scope string) string {
	return ":scope:" + scope + ":"
}

func digest(filters any) (string, bool) {
	if filters == nil {
		return "all", true
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), true
}
