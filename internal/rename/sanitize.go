package rename

import (
	"path"
	"strings"

	"mediaref/internal/mediatypes"
)

// maxNameLength bounds a sanitized file stem.
const maxNameLength = 100

// Sanitize turns a suggested name into a file stem made of lowercase
// letters, digits and single hyphens. A trailing image extension in the
// suggestion is dropped; the asset keeps its own extension.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	if ext := mediatypes.Ext(name); mediatypes.IsImage(ext) {
		name = strings.TrimSuffix(name, path.Ext(name))
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			hyphen = false
		case b.Len() > 0 && !hyphen:
			b.WriteByte('-')
			hyphen = true
		}
	}

	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxNameLength {
		out = strings.TrimRight(out[:maxNameLength], "-")
	}
	return out
}

// targetPath is the asset path after renaming the file at p to stem.
func targetPath(p, stem string) string {
	dir := path.Dir(p)
	name := stem + path.Ext(p)
	if dir == "." {
		return name
	}
	return dir + "/" + name
}
