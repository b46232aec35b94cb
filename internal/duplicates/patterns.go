package duplicates

import (
	"path"
	"regexp"
	"strings"
)

// copyMark says how a file name marks itself as a copy.
type copyMark int

const (
	markNone copyMark = iota
	// markWeak suffixes (-2, -scaled) are also used for legitimate series.
	markWeak
	// markExplicit suffixes (-copy, _copy, " (2)") only ever mean a copy.
	markExplicit
)

var (
	explicitCopySuffix = regexp.MustCompile(`(?i)^(.+?)(?:[-_]copy(?:-\d+)?| \(\d+\))$`)
	weakCopySuffix     = regexp.MustCompile(`(?i)^(.+?)(?:-\d{1,2}|-scaled)$`)
)

// copyName strips copy suffixes from the file name of p. It returns the
// directory-qualified base the copy belongs to, the lower-cased extension and
// the strongest mark that was removed.
func copyName(p string) (base, ext string, mark copyMark) {
	dir, file := path.Split(p)
	ext = strings.ToLower(path.Ext(file))
	stem := strings.TrimSuffix(file, path.Ext(file))

	for {
		if m := explicitCopySuffix.FindStringSubmatch(stem); m != nil {
			stem, mark = m[1], markExplicit
			continue
		}
		if m := weakCopySuffix.FindStringSubmatch(stem); m != nil {
			stem = m[1]
			if mark == markNone {
				mark = markWeak
			}
			continue
		}
		break
	}
	return dir + stem, ext, mark
}

// copyKey groups files that may be copies of each other.
func copyKey(p string) string {
	base, ext, _ := copyName(p)
	return strings.ToLower(base) + ext
}

// copyPair reports whether two names in the same copy bucket look like a
// copy of one another: one of them must carry a copy suffix, and two
// suffixed names only pair when both suffixes are explicit.
func copyPair(a, b copyMark) bool {
	switch {
	case a == markNone && b == markNone:
		return false
	case a == markNone || b == markNone:
		return true
	default:
		return a == markExplicit && b == markExplicit
	}
}
