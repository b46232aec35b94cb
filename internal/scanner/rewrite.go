package scanner

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"mediaref/internal/database"
)

// Renamer decides the replacement path for a reference. Returning false
// leaves the reference untouched.
type Renamer func(m Match) (newPath string, ok bool)

// VariantPath returns the path of a size variant of p, e.g.
// VariantPath("a/photo.jpg", "-300x200") is "a/photo-300x200.jpg".
func VariantPath(p, variant string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + variant + ext
}

// VariantParent returns the path a size variant is derived from, or false
// when p carries no -WxH suffix.
func VariantParent(p string) (string, bool) {
	ext := path.Ext(p)
	sm := variantSuffix.FindStringSubmatch(strings.TrimSuffix(p, ext))
	if sm == nil {
		return "", false
	}
	return sm[1] + ext, true
}

// PathRenamer moves references to oldPath, and to its size variants, onto
// newPath.
func PathRenamer(oldPath, newPath string) Renamer {
	return func(m Match) (string, bool) {
		if m.Path == oldPath {
			return newPath, true
		}
		if m.Variant != "" && m.AssetPath() == oldPath {
			return VariantPath(newPath, m.Variant), true
		}
		return "", false
	}
}

// MapRenamer moves references whose exact path is a key of moves to the
// mapped path and leaves the rest to next.
func MapRenamer(moves map[string]string, next Renamer) Renamer {
	return func(m Match) (string, bool) {
		if to, ok := moves[m.Path]; ok {
			return to, true
		}
		return next(m)
	}
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// RewriteText replaces every reference fn accepts and returns the new text
// and the number of references replaced. Everything outside the replaced
// paths is kept byte for byte, including the origin and prefix of each
// reference.
func (s *Scanner) RewriteText(text string, fn Renamer) (string, int) {
	matches := s.ScanText(text)
	if len(matches) == 0 {
		return text, 0
	}

	var b strings.Builder
	last, n := 0, 0
	for _, m := range matches {
		newPath, ok := fn(m)
		if !ok || newPath == m.Path {
			continue
		}
		if m.escaped {
			newPath = escapePath(newPath)
		}
		b.WriteString(text[last:m.Start])
		b.WriteString(m.Prefix)
		b.WriteString(newPath)
		last = m.End
		n++
	}
	if n == 0 {
		return text, 0
	}
	b.WriteString(text[last:])
	return b.String(), n
}

// RewriteJSON rewrites references inside the string values of a JSON
// document. It walks the raw token stream and re-encodes only the string
// values that changed, so key order, whitespace, number formatting and the
// escaping of untouched strings survive exactly. Object keys are never
// rewritten. Input that is not valid JSON is rewritten as text.
func (s *Scanner) RewriteJSON(data []byte, fn Renamer) ([]byte, int) {
	if !json.Valid(data) {
		out, n := s.RewriteText(string(data), fn)
		return []byte(out), n
	}

	var out bytes.Buffer
	last, total := 0, 0
	for i := 0; i < len(data); {
		if data[i] != '"' {
			i++
			continue
		}
		end := stringEnd(data, i)
		if isObjectKey(data, end) {
			i = end
			continue
		}

		raw := data[i:end]
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			i = end
			continue
		}
		rewritten, n := s.RewriteText(str, fn)
		if n > 0 {
			enc, err := marshalString(rewritten)
			if err == nil {
				// keep the escaped-slash style some encoders emit
				if bytes.Contains(raw, []byte(`\/`)) {
					enc = bytes.ReplaceAll(enc, []byte("/"), []byte(`\/`))
				}
				out.Write(data[last:i])
				out.Write(enc)
				last = end
				total += n
			}
		}
		i = end
	}
	if total == 0 {
		return data, 0
	}
	out.Write(data[last:])
	return out.Bytes(), total
}

// stringEnd returns the offset just past the string literal starting at
// data[start], which must be a quote.
func stringEnd(data []byte, start int) int {
	for k := start + 1; k < len(data); k++ {
		switch data[k] {
		case '\\':
			k++
		case '"':
			return k + 1
		}
	}
	return len(data)
}

func isObjectKey(data []byte, after int) bool {
	for j := after; j < len(data); j++ {
		switch data[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case ':':
			return true
		default:
			return false
		}
	}
	return false
}

// RewriteRecord returns the record's value with references rewritten,
// choosing the JSON or text rewriter by the record's encoding.
func (s *Scanner) RewriteRecord(r *database.Record, fn Renamer) (string, int) {
	if r.Encoding == database.EncodingJSON {
		out, n := s.RewriteJSON([]byte(r.Value), fn)
		return string(out), n
	}
	return s.RewriteText(r.Value, fn)
}
