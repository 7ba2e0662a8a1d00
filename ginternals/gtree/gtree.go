// Package gtree flattens and rebuilds the nested tree objects a commit
// points to. The object store only knows how to read/write a single
// tree's direct entries (ginternals/object.Tree); the merge engine and
// working-tree materialization need a full-path view, which is what this
// package builds on top of it.
package gtree

import (
	"os"
	"path"
	"sort"
	"strings"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// Store is the subset of the object store gtree needs: read trees/blobs
// back, and persist new ones while building a merged tree.
type Store interface {
	GetObject(oid ginternals.Oid) (*object.Object, error)
	WriteObject(o *object.Object) (ginternals.Oid, error)
}

// Entry is a leaf of a flattened tree: a full, "/"-separated repo path
// mapped to the blob (or gitlink) it contains.
type Entry struct {
	Hash ginternals.Oid
	Mode object.TreeObjectMode
}

// Flatten walks treeID recursively and returns every blob/gitlink entry
// it (transitively) contains, keyed by its full repo-relative path.
// Sub-trees themselves are not included in the result, only their
// leaves.
func Flatten(store Store, treeID ginternals.Oid) (map[string]Entry, error) {
	out := map[string]Entry{}
	if treeID.IsZero() {
		return out, nil
	}
	if err := flattenInto(store, treeID, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(store Store, treeID ginternals.Oid, prefix string, out map[string]Entry) error {
	o, err := store.GetObject(treeID)
	if err != nil {
		return xerrors.Errorf("could not get tree %s: %w", treeID.String(), err)
	}
	tree, err := o.AsTree()
	if err != nil {
		return xerrors.Errorf("could not parse tree %s: %w", treeID.String(), err)
	}

	for _, e := range tree.Entries() {
		full := e.Path
		if prefix != "" {
			full = path.Join(prefix, e.Path)
		}
		if e.Mode == object.ModeDirectory {
			if err := flattenInto(store, e.ID, full, out); err != nil {
				return err
			}
			continue
		}
		out[full] = Entry{Hash: e.ID, Mode: e.Mode}
	}
	return nil
}

// Build reconstructs a (possibly nested) tree from a flat path -> Entry
// map and persists every tree object it creates (including intermediate
// directories), returning the Oid of the root tree.
func Build(store Store, entries map[string]Entry) (ginternals.Oid, error) {
	root := &node{children: map[string]*node{}}
	for p, e := range entries {
		root.insert(strings.Split(path.Clean(p), "/"), e)
	}
	return root.write(store)
}

// node is an in-memory intermediate representation of a directory used
// while building a tree bottom-up from a flat path map.
type node struct {
	entry    *Entry // set on leaves
	children map[string]*node
}

func (n *node) insert(segments []string, e Entry) {
	if len(segments) == 1 {
		if n.children[segments[0]] == nil {
			n.children[segments[0]] = &node{}
		}
		n.children[segments[0]].entry = &e
		return
	}
	child, ok := n.children[segments[0]]
	if !ok {
		child = &node{children: map[string]*node{}}
		n.children[segments[0]] = child
	}
	child.insert(segments[1:], e)
}

func (n *node) write(store Store) (ginternals.Oid, error) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]object.TreeEntry, 0, len(names))
	for _, name := range names {
		child := n.children[name]
		if child.entry != nil {
			entries = append(entries, object.TreeEntry{
				Path: name,
				ID:   child.entry.Hash,
				Mode: child.entry.Mode,
			})
			continue
		}
		childID, err := child.write(store)
		if err != nil {
			return ginternals.NullOid, err
		}
		entries = append(entries, object.TreeEntry{
			Path: name,
			ID:   childID,
			Mode: object.ModeDirectory,
		})
	}

	t := object.NewTree(entries)
	return store.WriteObject(t.ToObject())
}

// Materialize writes every blob a flattened tree contains to fs, rooted
// at workingTreeRoot, erasing any file that used to be there but isn't
// part of newEntries. Used by the merge engine to update the working
// tree after a fast-forward or a three-way merge.
func Materialize(fs afero.Fs, store Store, workingTreeRoot string, oldTreeID, newTreeID ginternals.Oid) error {
	oldEntries, err := Flatten(store, oldTreeID)
	if err != nil {
		return err
	}
	newEntries, err := Flatten(store, newTreeID)
	if err != nil {
		return err
	}

	for p := range oldEntries {
		if _, ok := newEntries[p]; !ok {
			_ = fs.Remove(path.Join(workingTreeRoot, p))
		}
	}

	for p, e := range newEntries {
		full := path.Join(workingTreeRoot, p)
		if err := fs.MkdirAll(path.Dir(full), 0o755); err != nil {
			return xerrors.Errorf("could not create directory for %s: %w", p, err)
		}
		o, err := store.GetObject(e.Hash)
		if err != nil {
			return xerrors.Errorf("could not get blob %s: %w", e.Hash.String(), err)
		}
		perm := uint32(0o644)
		if e.Mode == object.ModeExecutable {
			perm = 0o755
		}
		if err := afero.WriteFile(fs, full, o.AsBlob().Bytes(), 0o644); err != nil {
			return xerrors.Errorf("could not write %s: %w", p, err)
		}
		_ = fs.Chmod(full, os.FileMode(perm))
	}
	return nil
}
