package media

import (
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"mediaref/internal/filesystem"
	"mediaref/internal/logging"
	"mediaref/internal/mediatypes"
)

// ContentHash returns the hex BLAKE2b-256 digest of the file at path.
func ContentHash(path string) (string, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s: %v", path, err)
		}
	}()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Facts are the file-derived properties of a stored asset.
type Facts struct {
	MimeType    string
	Size        int64
	ContentHash string
	Width       int
	Height      int
	// Fingerprint is nil when the format cannot be decoded.
	Fingerprint *uint64
}

// ProbeOptions selects the expensive parts of Probe.
type ProbeOptions struct {
	// Fingerprint decodes the image to compute its dHash.
	Fingerprint bool
}

// Probe reads the facts of the asset stored at relPath under root.
// Dimension and fingerprint failures are logged and leave those fields
// empty; a missing or unreadable file is an error.
func Probe(root, relPath string, opts ProbeOptions) (*Facts, error) {
	full := filepath.Join(root, filepath.FromSlash(relPath))

	info, err := filesystem.StatWithRetry(full, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", relPath)
	}

	hash, err := ContentHash(full)
	if err != nil {
		return nil, err
	}

	ext := mediatypes.Ext(relPath)
	facts := &Facts{
		MimeType:    mediatypes.GetMimeType(ext),
		Size:        info.Size(),
		ContentHash: hash,
	}

	if dims, err := GetImageDimensions(full); err == nil {
		facts.Width, facts.Height = dims.Width, dims.Height
	} else {
		logging.Debug("No dimensions for %s: %v", relPath, err)
	}

	if opts.Fingerprint {
		if fp, err := Fingerprint(full); err == nil {
			facts.Fingerprint = &fp
		} else {
			logging.Debug("No fingerprint for %s: %v", relPath, err)
		}
	}

	return facts, nil
}
