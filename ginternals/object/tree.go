package object

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/internal/readutil"
	"golang.org/x/xerrors"
)

// TreeObjectMode represents the mode of an object inside a tree
// Non-standard modes (like 0o100664) are not supported
type TreeObjectMode int32

const (
	// ModeFile represents the mode to use for a regular file
	ModeFile TreeObjectMode = 0o100644
	// ModeExecutable represents the mode to use for a executable file
	ModeExecutable TreeObjectMode = 0o100755
	// ModeDirectory represents the mode to use for a directory
	ModeDirectory TreeObjectMode = 0o040000
	// ModeSymLink represents the mode to use for a symbolic link
	ModeSymLink TreeObjectMode = 0o120000
	// ModeGitLink represents the mode to use for a gitlink (submodule)
	ModeGitLink TreeObjectMode = 0o160000
)

// IsValid returns whether the mode is a supported mode or not
func (m TreeObjectMode) IsValid() bool {
	// we use a switch because any missing value will be detected
	// by our linter
	switch m {
	case ModeFile, ModeExecutable, ModeDirectory, ModeSymLink, ModeGitLink:
		return true
	default:
		return false
	}
}

// ObjectType returns the object type associated to a mode
func (m TreeObjectMode) ObjectType() Type {
	switch m {
	case ModeDirectory:
		return TypeTree
	case ModeGitLink:
		return TypeCommit
	case ModeExecutable, ModeFile, ModeSymLink:
		return TypeBlob
	default:
		// We treat anything unexpected as blob
		return TypeBlob
	}
}

// Tree represents a git tree object
type Tree struct {
	rawObject *Object
	// we don't use pointers to make sure entries are immutable
	entries []TreeEntry
}

// TreeEntry represents an entry inside a git tree
type TreeEntry struct {
	Path string
	ID   ginternals.Oid
	Mode TreeObjectMode
}

// NewTree returns a new tree with the given entries
func NewTree(entries []TreeEntry) *Tree {
	t := &Tree{
		entries: entries,
	}
	t.rawObject = t.ToObject()
	return t
}

// NewTreeWithID returns a new tree with the given entries, trusting the
// caller-provided id instead of recomputing it.
func NewTreeWithID(id ginternals.Oid, entries []TreeEntry) *Tree {
	t := &Tree{entries: entries}
	t.rawObject = New(TypeTree, t.ToObject().Bytes())
	t.rawObject = NewWithID(id, TypeTree, t.rawObject.Bytes())
	return t
}

// NewTreeFromObject returns a new tree from an object
//
// Each entry of a tree occupies one line:
//
//	{octal_mode} {kind} {hex_hash} {path_name}\n
//
// Note:
// - a Tree may have multiple entries
// - this is not Git's canonical binary tree encoding; it is the textual
// form this implementation uses on disk for every tree object
func NewTreeFromObject(o *Object) (*Tree, error) {
	if o.Type() != TypeTree {
		return nil, xerrors.Errorf("type %s is not a tree: %w", o.typ, ErrObjectInvalid)
	}

	entries := []TreeEntry{}

	objData := o.Bytes()
	offset := 0
	for i := 1; offset < len(objData); i++ {
		line := readutil.ReadTo(objData[offset:], '\n')
		if len(line) == 0 {
			return nil, xerrors.Errorf("empty entry line %d: %w", i, ErrTreeInvalid)
		}
		offset += len(line) + 1 // +1 to count the \n

		fields := bytes.SplitN(line, []byte{' '}, 4)
		if len(fields) != 4 {
			return nil, xerrors.Errorf("malformed entry line %d: %w", i, ErrTreeInvalid)
		}

		mode, err := strconv.ParseInt(string(fields[0]), 8, 32)
		if err != nil {
			return nil, xerrors.Errorf("could not parse mode of entry %d: %s: %w", i, err.Error(), ErrTreeInvalid)
		}

		oid, err := ginternals.NewOidFromChars(fields[2])
		if err != nil {
			return nil, xerrors.Errorf("invalid hash for entry %d (%s): %w", i, err.Error(), ErrTreeInvalid)
		}

		m := TreeObjectMode(mode)
		if string(fields[1]) != m.ObjectType().String() {
			return nil, xerrors.Errorf("entry %d kind %q does not match mode %o: %w", i, fields[1], mode, ErrTreeInvalid)
		}

		entries = append(entries, TreeEntry{
			Mode: TreeObjectMode(mode),
			ID:   oid,
			Path: string(fields[3]),
		})
	}
	return &Tree{
		rawObject: o,
		entries:   entries,
	}, nil
}

// Entries returns a copy of tree entries
func (t *Tree) Entries() []TreeEntry {
	out := make([]TreeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ID returns the object's ID, computed from the tree's content
func (t *Tree) ID() ginternals.Oid {
	return t.rawObject.ID()
}

// ToObject returns an Object representing the tree
func (t *Tree) ToObject() *Object {
	sort.Slice(t.entries, func(i, j int) bool {
		return t.entries[i].Path < t.entries[j].Path
	})

	// Quick reminder that the Write* methods on bytes.Buffer never fails,
	// the error returned is always nil
	buf := new(bytes.Buffer)

	// Each entry is one line: {octal_mode} {kind} {hex_hash} {path_name}\n
	for _, e := range t.entries {
		buf.WriteString(strconv.FormatInt(int64(e.Mode), 8))
		buf.WriteByte(' ')
		buf.WriteString(e.Mode.ObjectType().String())
		buf.WriteByte(' ')
		buf.WriteString(e.ID.String())
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
		buf.WriteByte('\n')
	}

	return New(TypeTree, buf.Bytes())
}
