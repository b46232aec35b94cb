package rename

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"mediaref/internal/filesystem"
	"mediaref/internal/logging"
	"mediaref/internal/mediatypes"
)

var sizeVariant = regexp.MustCompile(`^-\d+x\d+$`)

// move is one file moved on disk, relative to the media root.
type move struct {
	from, to string
}

// relatedTarget reports whether name, a file in the same directory as
// oldPath, is one of its size variants (photo-300x200.jpg) or an alternate
// encoding appended to its name (photo.jpg.webp), and returns the path it
// takes when oldPath becomes newPath.
func relatedTarget(oldPath, newPath, name string) (string, bool) {
	oldFile, ext := path.Base(oldPath), path.Ext(oldPath)
	oldStem := strings.TrimSuffix(oldFile, ext)
	if name == oldFile {
		return "", false
	}

	if strings.HasPrefix(name, oldStem) && strings.HasSuffix(name, ext) {
		variant := strings.TrimSuffix(strings.TrimPrefix(name, oldStem), ext)
		if sizeVariant.MatchString(variant) {
			return strings.TrimSuffix(newPath, path.Ext(newPath)) + variant + path.Ext(newPath), true
		}
	}
	if strings.HasPrefix(name, oldFile+".") && mediatypes.IsAlternateFormat(mediatypes.Ext(name)) {
		return newPath + strings.TrimPrefix(name, oldFile), true
	}
	return "", false
}

// fileMoves lists the files that travel with an asset: the stored file
// first, then every related file found next to it.
func (e *Engine) fileMoves(oldPath, newPath string) ([]move, error) {
	moves := []move{{from: oldPath, to: newPath}}

	dir := path.Dir(oldPath)
	entries, err := os.ReadDir(filepath.Join(e.mediaDir, filepath.FromSlash(dir)))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		to, ok := relatedTarget(oldPath, newPath, de.Name())
		if !ok {
			continue
		}
		moves = append(moves, move{from: path.Join(dir, de.Name()), to: to})
	}
	return moves, nil
}

func (e *Engine) abs(rel string) string {
	return filepath.Join(e.mediaDir, filepath.FromSlash(rel))
}

// moveFiles performs the moves in order. On failure the files already moved
// are put back and the error is returned.
func (e *Engine) moveFiles(moves []move) ([]move, error) {
	cfg := filesystem.DefaultRetryConfig()
	var done []move
	for _, m := range moves {
		if err := filesystem.RenameWithRetry(e.abs(m.from), e.abs(m.to), cfg); err != nil {
			if errors.Is(err, fs.ErrExist) {
				err = fmt.Errorf("target %s already exists", m.to)
			}
			e.undoMoves(done)
			return nil, fmt.Errorf("rename %s: %w", m.from, err)
		}
		done = append(done, m)
	}
	return done, nil
}

// undoMoves reverses moves, newest first.
func (e *Engine) undoMoves(moves []move) {
	cfg := filesystem.DefaultRetryConfig()
	for i := len(moves) - 1; i >= 0; i-- {
		m := moves[i]
		if err := filesystem.RenameWithRetry(e.abs(m.to), e.abs(m.from), cfg); err != nil {
			logging.Error("Failed to move %s back to %s: %v", m.to, m.from, err)
		}
	}
}
