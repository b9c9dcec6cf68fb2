// Package version implements the registry's version algebra: normalizing a
// registry-supplied version string to a three-segment semantic form and
// evaluating the ecosystem's constraint grammar (caret, tilde, comparison
// operators, exact, wildcard, with "||" disjunction) against it.
//
// Both entry points are pure and infallible: bad input yields a zero value
// and false, or a constraint that matches nothing, never a panic or error.
package version

import (
	"strconv"
	"strings"
)

// preRank orders pre-release kinds; stable releases rank highest.
var preRank = map[string]int{
	"dev":   0,
	"alpha": 1,
	"beta":  2,
	"rc":    3,
}

const stableRank = 4

// Semantic is the three-segment reduction of a registry NormalizedVersion.
type Semantic struct {
	Major, Minor, Patch int
	// Pre is the raw suffix attached to the patch segment, e.g. "beta2",
	// lowercased. Empty for a stable release.
	Pre string
}

// preKindAndNum splits a pre-release suffix like "beta2" into its kind
// ("beta") and trailing numeric ordinal (2, or 0 if absent).
func preKindAndNum(pre string) (kind string, num int) {
	if pre == "" {
		return "", 0
	}
	i := len(pre)
	for i > 0 && pre[i-1] >= '0' && pre[i-1] <= '9' {
		i--
	}
	kind = pre[:i]
	if i < len(pre) {
		num, _ = strconv.Atoi(pre[i:])
	}
	return kind, num
}

// rank returns this version's pre-release rank (stableRank for a release
// with no recognized pre-release keyword in its suffix).
func (s Semantic) rank() int {
	if s.Pre == "" {
		return stableRank
	}
	kind, _ := preKindAndNum(s.Pre)
	kind = strings.ToLower(kind)
	for name, r := range preRank {
		if strings.Contains(kind, name) {
			return r
		}
	}
	return stableRank
}

// Compare returns -1, 0 or 1 as a sorts before, equals, or sorts after b,
// ordering by major, minor, patch and then pre-release rank (dev < alpha <
// beta < RC < stable), with same-kind pre-releases broken by their trailing
// ordinal.
func Compare(a, b Semantic) int {
	if a.Major != b.Major {
		return cmpInt(a.Major, b.Major)
	}
	if a.Minor != b.Minor {
		return cmpInt(a.Minor, b.Minor)
	}
	if a.Patch != b.Patch {
		return cmpInt(a.Patch, b.Patch)
	}
	ar, br := a.rank(), b.rank()
	if ar != br {
		return cmpInt(ar, br)
	}
	if ar == stableRank {
		return 0
	}
	_, an := preKindAndNum(a.Pre)
	_, bn := preKindAndNum(b.Pre)
	return cmpInt(an, bn)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Normalize reduces a registry version string to its three-segment
// semantic form. A leading "v" is stripped.
// Exactly three dot-separated segments are kept as-is; four or more are
// truncated to the first three, discarding whatever trails (including any
// pre-release suffix that landed on a discarded segment). Fewer than three,
// or an empty string, fails.
func Normalize(v string) (Semantic, bool) {
	v = strings.TrimPrefix(v, "v")
	if v == "" {
		return Semantic{}, false
	}
	parts := strings.Split(v, ".")
	if len(parts) < 3 {
		return Semantic{}, false
	}
	segs := parts
	if len(parts) > 3 {
		segs = parts[:3]
	}

	major, ok := parseLeadingInt(segs[0])
	if !ok {
		return Semantic{}, false
	}
	minor, ok := parseLeadingInt(segs[1])
	if !ok {
		return Semantic{}, false
	}
	patch, pre, ok := parsePatchSegment(segs[2])
	if !ok {
		return Semantic{}, false
	}
	return Semantic{Major: major, Minor: minor, Patch: patch, Pre: strings.ToLower(pre)}, true
}

func parseLeadingInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parsePatchSegment splits the third segment into its numeric patch value
// and an optional pre-release suffix, accepting both "3-beta1" and "3beta1"
// shapes.
func parsePatchSegment(s string) (patch int, pre string, ok bool) {
	if s == "" {
		return 0, "", false
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	patch, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, "", false
	}
	rest := s[i:]
	rest = strings.TrimPrefix(rest, "-")
	return patch, rest, true
}

// IsStable classifies a registry-normalized version string as stable: it
// parses and none of "dev", "alpha", "beta" or "RC" appear (case-sensitive,
// as upstream writes them) in the normalized form.
func IsStable(normalized string) bool {
	if _, ok := Normalize(normalized); !ok {
		return false
	}
	for _, bad := range []string{"dev", "alpha", "beta", "RC"} {
		if strings.Contains(normalized, bad) {
			return false
		}
	}
	return true
}

// Matches evaluates a constraint expression against a version string.
// version is parsed via Normalize; on failure this returns false.
// constraint is split on "||"; each disjunct is trimmed and parsed as a
// primitive (caret, tilde, comparison operator, exact, or wildcard). A
// disjunct that fails to parse is ignored, not treated as a failure of the
// whole match. Matches returns true iff at least one disjunct both parses
// and matches.
func Matches(constraint, ver string) bool {
	sem, ok := Normalize(ver)
	if !ok {
		return false
	}
	for _, disjunct := range strings.Split(constraint, "||") {
		disjunct = strings.TrimSpace(disjunct)
		if disjunct == "" {
			continue
		}
		pred, ok := parsePrimitive(disjunct)
		if !ok {
			continue
		}
		if pred(sem) {
			return true
		}
	}
	return false
}

type predicate func(Semantic) bool

// parsePrimitive parses one trimmed constraint disjunct into a predicate.
func parsePrimitive(s string) (predicate, bool) {
	switch {
	case strings.HasPrefix(s, "^"):
		return parseCaret(strings.TrimSpace(s[1:]))
	case strings.HasPrefix(s, "~"):
		return parseTilde(strings.TrimSpace(s[1:]))
	case strings.HasPrefix(s, ">="):
		return parseCompare(strings.TrimSpace(s[2:]), func(c int) bool { return c >= 0 })
	case strings.HasPrefix(s, "<="):
		return parseCompare(strings.TrimSpace(s[2:]), func(c int) bool { return c <= 0 })
	case strings.HasPrefix(s, ">"):
		return parseCompare(strings.TrimSpace(s[1:]), func(c int) bool { return c > 0 })
	case strings.HasPrefix(s, "<"):
		return parseCompare(strings.TrimSpace(s[1:]), func(c int) bool { return c < 0 })
	case strings.HasPrefix(s, "="):
		return parseCompare(strings.TrimSpace(s[1:]), func(c int) bool { return c == 0 })
	case strings.Contains(s, "*"):
		return parseWildcard(s)
	default:
		return parseCompare(s, func(c int) bool { return c == 0 })
	}
}

// parsePartialBase parses "X", "X.Y" or "X.Y.Z" into a Semantic, defaulting
// missing trailing components to zero, the way Composer treats a
// caret/tilde base of fewer than three segments.
func parsePartialBase(s string) (Semantic, bool) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return Semantic{}, false
	}
	major, ok := parseLeadingInt(parts[0])
	if !ok {
		return Semantic{}, false
	}
	var minor, patch int
	var pre string
	if len(parts) >= 2 {
		if minor, ok = parseLeadingInt(parts[1]); !ok {
			return Semantic{}, false
		}
	}
	if len(parts) == 3 {
		var patchOK bool
		if patch, pre, patchOK = parsePatchSegment(parts[2]); !patchOK {
			return Semantic{}, false
		}
	}
	return Semantic{Major: major, Minor: minor, Patch: patch, Pre: strings.ToLower(pre)}, true
}

// parseCaret implements "^X", "^X.Y" and "^X.Y.Z": matches versions up to,
// but excluding, the next major release (no stable/pre-release restriction
// beyond what the base version itself carries).
func parseCaret(s string) (predicate, bool) {
	base, ok := parsePartialBase(s)
	if !ok {
		return nil, false
	}
	return func(v Semantic) bool {
		if v.Major != base.Major {
			return false
		}
		return Compare(v, base) >= 0
	}, true
}

// parseTilde implements "~X.Y" and "~X.Y.Z": matches versions at or above
// the base, up to but excluding the next minor release X.(Y+1).0.
func parseTilde(s string) (predicate, bool) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, false
	}
	major, ok := parseLeadingInt(parts[0])
	if !ok {
		return nil, false
	}
	minor, ok := parseLeadingInt(parts[1])
	if !ok {
		return nil, false
	}
	if len(parts) == 2 {
		base := Semantic{Major: major, Minor: minor}
		return func(v Semantic) bool {
			return v.Major == base.Major && v.Minor == base.Minor && Compare(v, base) >= 0
		}, true
	}
	patch, pre, ok := parsePatchSegment(parts[2])
	if !ok {
		return nil, false
	}
	base := Semantic{Major: major, Minor: minor, Patch: patch, Pre: strings.ToLower(pre)}
	return func(v Semantic) bool {
		return v.Major == base.Major && v.Minor == base.Minor && Compare(v, base) >= 0
	}, true
}

func parseCompare(s string, ok func(int) bool) (predicate, bool) {
	base, parsed := Normalize(s)
	if !parsed {
		return nil, false
	}
	return func(v Semantic) bool {
		return ok(Compare(v, base))
	}, true
}

// parseWildcard implements "X.Y.*" and "X.*" style constraints: each
// segment up to the first "*" must match exactly, segments from the "*"
// onward are unconstrained.
func parseWildcard(s string) (predicate, bool) {
	segs := strings.Split(s, ".")
	var major, minor int
	haveMinor := false
	for i, seg := range segs {
		if seg == "*" {
			break
		}
		n, ok := parseLeadingInt(seg)
		if !ok {
			return nil, false
		}
		switch i {
		case 0:
			major = n
		case 1:
			minor = n
			haveMinor = true
		}
	}
	return func(v Semantic) bool {
		if v.Major != major {
			return false
		}
		if haveMinor && v.Minor != minor {
			return false
		}
		return true
	}, true
}
