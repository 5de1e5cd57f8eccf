// Package matcher implements the pure predicate that decides whether an
// Asset satisfies a TaskOrder's ResourceHint.
package matcher

import (
	"strings"

	"github.com/ridgeline-systems/creep/pkg/asset"
	"github.com/ridgeline-systems/creep/pkg/taskorder"
)

// Match reports whether asset a satisfies hint. It is referentially
// transparent: the same (hint, asset) pair always returns the same result.
//
//   - sku_category must match exactly.
//   - sku_code, when set on the hint, glob-matches a's sku_code ("*" is a
//     wildcard run); a nil hint sku_code matches any asset sku_code.
//   - attributes, when set, must all be present with equal values in the
//     asset's meta_spec (containment, not equality of the whole map).
func Match(hint taskorder.ResourceHint, a asset.Asset) bool {
	if hint.SKUCategory != a.SKUCategory {
		return false
	}

	if hint.SKUCode != nil {
		if a.SKUCode == nil || !globMatch(*hint.SKUCode, *a.SKUCode) {
			return false
		}
	}

	for k, v := range hint.Attributes {
		got, ok := a.MetaSpec[k]
		if !ok {
			return false
		}
		gotStr, ok := got.(string)
		if !ok || gotStr != v {
			return false
		}
	}

	return true
}

// GlobToLike rewrites a "*"-glob pattern into a SQL LIKE pattern, escaping
// any literal "%" or "_" the pattern already contains. pkg/store/postgres.go
// reuses this so the in-process matcher and the SQL query encode the
// identical rule.
func GlobToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// globMatch implements the same "*"-only glob semantics in process, used by
// the in-memory store fake and by Match above.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := len(parts) - 1
	for i := 1; i < last; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}

	return strings.HasSuffix(s, parts[last])
}
