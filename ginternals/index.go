package ginternals

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/opengit/opengit/ginternals/object"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// metadataDirName is the name of the directory a working tree keeps its
// repository metadata in. AddPath never recurses into it.
const metadataDirName = ".git"

// IgnoreFileName is the name of the file, at the root of a working tree,
// that holds the ignore patterns used by AddPath.
const IgnoreFileName = ".gitignore"

// IndexEntry represents a single tracked path in the index: the path is
// repo-relative and always uses "/" as separator, regardless of the
// host OS.
type IndexEntry struct {
	Hash Oid
	Path string
}

// ObjectWriter is the subset of the object store the index needs to
// persist the blobs it stages. Satisfied by backend.Backend and
// *opengit.Repository.
type ObjectWriter interface {
	WriteObject(o *object.Object) (Oid, error)
}

// Index represents the staging area: an ordered, insertion-order list of
// path -> blob hash pairs. Unlike Git's binary DIRC format, this
// implementation stores the index as a text file of "<hash> <path>\n"
// lines, one per entry.
type Index struct {
	entries []IndexEntry
	byPath  map[string]int

	ignore []string
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{
		byPath: map[string]int{},
	}
}

// LoadIndex reads an index file from disk. A missing file is not an
// error: it is treated the same as an empty index, since a freshly
// initialized repository has no index yet.
func LoadIndex(fs afero.Fs, indexPath string) (*Index, error) {
	idx := NewIndex()

	f, err := fs.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, xerrors.Errorf("could not open index %s: %w", indexPath, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, xerrors.Errorf("malformed index entry %q: %w", line, ErrIndexInvalid)
		}
		hash, err := NewOidFromStr(fields[0])
		if err != nil {
			return nil, xerrors.Errorf("invalid hash in index entry %q: %w", line, ErrIndexInvalid)
		}
		idx.set(IndexEntry{Hash: hash, Path: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("could not read index %s: %w", indexPath, err)
	}
	return idx, nil
}

// LoadIgnorePatterns reads the ignore file at the root of a working tree.
// A missing file means no pattern is ignored.
//
// Patterns are path.Match glob patterns; IsIgnored applies them to the
// path relative to the working tree root and to its last segment.
func LoadIgnorePatterns(fs afero.Fs, workingTreeRoot string) ([]string, error) {
	f, err := fs.Open(filepath.Join(workingTreeRoot, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("could not open %s: %w", IgnoreFileName, err)
	}
	defer f.Close() //nolint:errcheck

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("could not read %s: %w", IgnoreFileName, err)
	}
	return patterns, nil
}

// SetIgnorePatterns attaches the ignore patterns AddPath should use
func (idx *Index) SetIgnorePatterns(patterns []string) {
	idx.ignore = patterns
}

// IsIgnored returns whether the given repo-relative path matches one of
// the index's ignore patterns. Exposed directly (not just used
// internally by AddPath) since callers may want to check a path without
// staging it.
func (idx *Index) IsIgnored(p string) bool {
	p = filepath.ToSlash(p)
	for _, pattern := range idx.ignore {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
		// also match the pattern against the last path segment, so a
		// pattern like "*.log" matches "dir/file.log" the way a
		// .gitignore entry would
		if ok, _ := path.Match(pattern, path.Base(p)); ok {
			return true
		}
	}
	return false
}

func (idx *Index) set(e IndexEntry) {
	if i, ok := idx.byPath[e.Path]; ok {
		idx.entries[i] = e
		return
	}
	idx.byPath[e.Path] = len(idx.entries)
	idx.entries = append(idx.entries, e)
}

// Contains returns whether path is currently tracked by the index
func (idx *Index) Contains(p string) bool {
	_, ok := idx.byPath[filepath.ToSlash(p)]
	return ok
}

// HashOf returns the blob hash recorded for path
func (idx *Index) HashOf(p string) (Oid, bool) {
	i, ok := idx.byPath[filepath.ToSlash(p)]
	if !ok {
		return NullOid, false
	}
	return idx.entries[i].Hash, true
}

// Entries returns a copy of the index entries, in insertion order
func (idx *Index) Entries() []IndexEntry {
	out := make([]IndexEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Remove removes path from the index. Removing a path that isn't
// tracked is a no-op.
func (idx *Index) Remove(p string) error {
	p = filepath.ToSlash(p)
	i, ok := idx.byPath[p]
	if !ok {
		return nil
	}
	idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	delete(idx.byPath, p)
	for j := i; j < len(idx.entries); j++ {
		idx.byPath[idx.entries[j].Path] = j
	}
	return nil
}

// AddPath hashes the file (or, recursively, every file inside the
// directory) found at workingPath and stages it. workingPath is relative
// to workingTreeRoot.
//
// If the path no longer exists on disk, it is implicitly removed from
// the index instead of failing: this mirrors `git add` treating a
// deleted tracked file as a removal.
func (idx *Index) AddPath(fs afero.Fs, store ObjectWriter, workingTreeRoot, workingPath string) error {
	repoRelative := filepath.ToSlash(workingPath)
	if repoRelative == metadataDirName || strings.HasPrefix(repoRelative, metadataDirName+"/") {
		return nil
	}

	if idx.IsIgnored(repoRelative) {
		return xerrors.Errorf("%s: %w", repoRelative, ErrIgnoredPath)
	}

	fullPath := filepath.Join(workingTreeRoot, workingPath)
	info, err := fs.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return idx.Remove(repoRelative)
		}
		return xerrors.Errorf("could not stat %s: %w", fullPath, err)
	}

	if info.IsDir() {
		entries, err := afero.ReadDir(fs, fullPath)
		if err != nil {
			return xerrors.Errorf("could not read dir %s: %w", fullPath, err)
		}
		for _, e := range entries {
			if e.Name() == metadataDirName {
				continue
			}
			if err := idx.AddPath(fs, store, workingTreeRoot, path.Join(workingPath, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	content, err := afero.ReadFile(fs, fullPath)
	if err != nil {
		return xerrors.Errorf("could not read %s: %w", fullPath, err)
	}

	o := object.New(object.TypeBlob, content)
	hash, err := store.WriteObject(o)
	if err != nil {
		return xerrors.Errorf("could not write blob for %s: %w", repoRelative, err)
	}

	idx.set(IndexEntry{Hash: hash, Path: repoRelative})
	return nil
}

// Write persists the index to disk as a text file of "<hash> <path>\n"
// lines, in insertion order.
func (idx *Index) Write(fs afero.Fs, indexPath string) (err error) {
	f, err := fs.Create(indexPath)
	if err != nil {
		return xerrors.Errorf("could not create index %s: %w", indexPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	for _, e := range idx.entries {
		if _, err := w.WriteString(e.Hash.String()); err != nil {
			return xerrors.Errorf("could not write index entry: %w", err)
		}
		if _, err := w.WriteString(" "); err != nil {
			return xerrors.Errorf("could not write index entry: %w", err)
		}
		if _, err := w.WriteString(e.Path); err != nil {
			return xerrors.Errorf("could not write index entry: %w", err)
		}
		if _, err := w.WriteString("\n"); err != nil {
			return xerrors.Errorf("could not write index entry: %w", err)
		}
	}
	return w.Flush()
}
