package scanner

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"mediaref/internal/database"
	"mediaref/internal/mediatypes"
)

// DefaultPrefix is the storage prefix references are recognised under.
const DefaultPrefix = "/uploads/"

// Config controls which strings count as asset references.
type Config struct {
	// Prefix is the storage path every reference points under.
	Prefix string
	// BaseURLs are absolute origins (https://example.com) that may precede
	// Prefix. Protocol-relative and root-relative forms always match.
	BaseURLs []string
}

// Scanner extracts asset references from location records. It holds no
// state beyond its compiled pattern and is safe for concurrent use.
type Scanner struct {
	prefix string
	re     *regexp.Regexp
}

var variantSuffix = regexp.MustCompile(`^(.*)(-\d+x\d+)$`)

// New compiles a Scanner for cfg.
func New(cfg Config) *Scanner {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var origins []string
	for _, base := range cfg.BaseURLs {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			continue
		}
		origins = append(origins, regexp.QuoteMeta(base))
	}
	origins = append(origins, `(?:https?:)?//[A-Za-z0-9.-]+(?::\d+)?`)

	// The path is greedy so photo.jpg.webp is one reference, not photo.jpg
	// followed by junk; the trailing \b rejects photo.jpgx.
	pattern := `(?i)((?:` + strings.Join(origins, "|") + `)?` + regexp.QuoteMeta(prefix) + `)` +
		`([^\s"'<>?#\\(),]+\.(?:` + mediatypes.ExtensionPattern() + `))\b`

	return &Scanner{
		prefix: prefix,
		re:     regexp.MustCompile(pattern),
	}
}

// Prefix returns the normalised storage prefix.
func (s *Scanner) Prefix() string {
	return s.prefix
}

// Match is one reference found in a string.
type Match struct {
	// Raw is the matched text exactly as it appears in the source.
	Raw string
	// Prefix is everything before the asset path: origin plus storage prefix.
	Prefix string
	// Path is the referenced object path relative to the storage prefix,
	// URL-decoded.
	Path string
	// Variant is a size suffix such as -300x200, empty for the original.
	Variant string
	// Start and End are byte offsets of Raw in the scanned string.
	Start, End int

	escaped bool
}

// AssetPath is the path of the original asset the reference resolves to,
// with any size variant suffix removed.
func (m Match) AssetPath() string {
	if m.Variant == "" {
		return m.Path
	}
	ext := path.Ext(m.Path)
	return strings.TrimSuffix(strings.TrimSuffix(m.Path, ext), m.Variant) + ext
}

// Resolves reports whether the reference points at the asset stored at
// assetPath, either directly or through a size variant.
func (m Match) Resolves(assetPath string) bool {
	return m.Path == assetPath || m.AssetPath() == assetPath
}

// ScanText returns every reference in text in order of appearance.
func (s *Scanner) ScanText(text string) []Match {
	if !strings.Contains(strings.ToLower(text), strings.ToLower(s.prefix)) {
		return nil
	}

	idx := s.re.FindAllStringSubmatchIndex(text, -1)
	matches := make([]Match, 0, len(idx))
	for _, loc := range idx {
		m := Match{
			Raw:    text[loc[0]:loc[1]],
			Prefix: text[loc[2]:loc[3]],
			Path:   text[loc[4]:loc[5]],
			Start:  loc[0],
			End:    loc[1],
		}
		if decoded, err := url.PathUnescape(m.Path); err == nil && decoded != m.Path {
			m.Path = decoded
			m.escaped = true
		}
		ext := path.Ext(m.Path)
		if sm := variantSuffix.FindStringSubmatch(strings.TrimSuffix(m.Path, ext)); sm != nil {
			m.Variant = sm[2]
		}
		matches = append(matches, m)
	}
	return matches
}

// Found is a reference located inside a structured value.
type Found struct {
	FieldKey string
	Match    Match
}

// ScanValue walks a tree and scans every string leaf. fieldKey prefixes the
// dotted leaf paths.
func (s *Scanner) ScanValue(v Value, fieldKey string) []Found {
	var out []Found
	for _, leaf := range v.Strings() {
		key := joinPath(fieldKey, leaf.Path)
		for _, m := range s.ScanText(leaf.Str) {
			out = append(out, Found{FieldKey: key, Match: m})
		}
	}
	return out
}

// Reference is one asset reference extracted from a location record, ready
// to become an index entry.
type Reference struct {
	ContextType database.ContextType
	LocationID  int64
	FieldKey    string
	Match       Match
}

// Entry converts the reference into an index entry for assetID.
func (r Reference) Entry(assetID int64, assetPath string) database.IndexEntry {
	return database.IndexEntry{
		AssetID:      assetID,
		AssetPath:    assetPath,
		ContextType:  r.ContextType,
		LocationID:   r.LocationID,
		FieldKey:     r.FieldKey,
		RawReference: r.Match.Raw,
	}
}

// ScanRecord extracts every reference from a location record. JSON records
// are decoded and walked; a JSON record that does not parse is scanned as
// plain text so a malformed blob never hides its references.
func (s *Scanner) ScanRecord(r *database.Record) []Reference {
	var refs []Reference
	add := func(fieldKey string, m Match) {
		refs = append(refs, Reference{
			ContextType: r.ContextType,
			LocationID:  r.ID,
			FieldKey:    fieldKey,
			Match:       m,
		})
	}

	if r.Encoding == database.EncodingJSON {
		if v, err := Decode([]byte(r.Value)); err == nil {
			for _, f := range s.ScanValue(v, r.FieldKey) {
				add(f.FieldKey, f.Match)
			}
			return refs
		}
	}

	for _, m := range s.ScanText(r.Value) {
		add(r.FieldKey, m)
	}
	return refs
}

// ReferencedPaths returns the distinct asset paths a record points at, for
// invalidating the usage index when the record is saved.
func (s *Scanner) ReferencedPaths(r *database.Record) []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, ref := range s.ScanRecord(r) {
		for _, p := range []string{ref.Match.Path, ref.Match.AssetPath()} {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				paths = append(paths, p)
			}
		}
	}
	return paths
}
