package filesystem

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"
)

const unknownVolume = "unknown"

// VolumeResolver names the mount a path lives on, for metric labels. The
// longest matching prefix wins, so a database directory nested inside the
// media directory gets its own label.
type VolumeResolver struct {
	mounts []volumeMount
}

type volumeMount struct {
	prefix string // absolute, with trailing slash
	name   string
}

// NewVolumeResolver builds a resolver from volume name to directory.
func NewVolumeResolver(volumes map[string]string) *VolumeResolver {
	vr := &VolumeResolver{}
	for name, dir := range volumes {
		if dir == "" {
			continue
		}
		vr.mounts = append(vr.mounts, volumeMount{prefix: withSlash(absOr(dir)), name: name})
	}
	slices.SortFunc(vr.mounts, func(a, b volumeMount) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})
	return vr
}

// Resolve returns the volume holding path, or "unknown".
func (vr *VolumeResolver) Resolve(path string) string {
	if vr == nil {
		return unknownVolume
	}
	abs := withSlash(absOr(path))
	for _, m := range vr.mounts {
		if strings.HasPrefix(abs, m.prefix) {
			return m.name
		}
	}
	return unknownVolume
}

func absOr(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func withSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

var defaultResolver *VolumeResolver

// SetDefaultVolumeResolver installs the resolver used when a RetryConfig
// does not carry its own. Call it once at startup.
func SetDefaultVolumeResolver(vr *VolumeResolver) {
	defaultResolver = vr
}
