// Package merge implements the fast-forward and three-way merge
// algorithms that update one branch with the commits of another.
package merge

import (
	"bytes"
	"fmt"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/commitgraph"
	"github.com/opengit/opengit/ginternals/gtree"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrNoCommonAncestor is returned when the two refs being merged share no
// history at all
var ErrNoCommonAncestor = commitgraph.ErrNoCommonAncestor

// Repo is the subset of *opengit.Repository the merge engine needs.
// Kept as a narrow interface so this package has no dependency on the
// root opengit package.
type Repo interface {
	gtree.Store
	Commit(oid ginternals.Oid) (*object.Commit, error)
	Reference(name string) (*ginternals.Reference, error)
	NewReference(name string, target ginternals.Oid) (*ginternals.Reference, error)
}

// ConflictedPath is a path that couldn't be merged automatically: both
// sides changed it differently from the common ancestor. The merge
// still completes - the conflict is recorded as data, never as an error.
type ConflictedPath struct {
	Path string
	Hash ginternals.Oid
}

// Result is what a merge produces: either a ref update with no new
// commit (fast-forward), or a new merge commit, optionally carrying
// conflicted paths.
type Result struct {
	// CommitID is the commit ours now points at after the merge
	CommitID ginternals.Oid
	// FastForward is true when no merge commit was created
	FastForward bool
	// NoOp is true when theirs was already an ancestor of ours
	NoOp bool
	// Conflicts lists every path that produced a conflict blob
	Conflicts []ConflictedPath
}

// Merge merges theirsRefName into oursRefName, updating oursRefName and
// materializing the result in the working tree rooted at
// workingTreeRoot. author is used as both author and committer of the
// merge commit, when one is created.
func Merge(repo Repo, fs afero.Fs, workingTreeRoot, oursRefName, theirsRefName string, author object.Signature) (*Result, error) {
	oursRef, err := repo.Reference(oursRefName)
	if err != nil {
		return nil, xerrors.Errorf("could not resolve %s: %w", oursRefName, err)
	}
	theirsRef, err := repo.Reference(theirsRefName)
	if err != nil {
		return nil, xerrors.Errorf("could not resolve %s: %w", theirsRefName, err)
	}
	ours := oursRef.Target()
	theirs := theirsRef.Target()

	base, err := commitgraph.CommonAncestor(repo, ours, theirs)
	if err != nil {
		return nil, err
	}

	oursCommit, err := repo.Commit(ours)
	if err != nil {
		return nil, xerrors.Errorf("could not get commit %s: %w", ours.String(), err)
	}

	if base == ours {
		// fast-forward: ours hasn't diverged, theirs simply moves ahead
		if _, err := repo.NewReference(oursRef.Name(), theirs); err != nil {
			return nil, xerrors.Errorf("could not fast-forward %s: %w", oursRefName, err)
		}
		theirsCommit, err := repo.Commit(theirs)
		if err != nil {
			return nil, xerrors.Errorf("could not get commit %s: %w", theirs.String(), err)
		}
		if fs != nil {
			if err := gtree.Materialize(fs, repo, workingTreeRoot, oursCommit.TreeID(), theirsCommit.TreeID()); err != nil {
				return nil, xerrors.Errorf("could not materialize merge result: %w", err)
			}
		}
		return &Result{CommitID: theirs, FastForward: true}, nil
	}

	if base == theirs {
		// theirs is already an ancestor of ours: nothing to do
		return &Result{CommitID: ours, FastForward: true, NoOp: true}, nil
	}

	return threeWayMerge(repo, fs, workingTreeRoot, oursRef.Name(), theirsRefName, ours, theirs, base, author)
}

func threeWayMerge(repo Repo, fs afero.Fs, workingTreeRoot, oursRefName, theirsRefName string, ours, theirs, base ginternals.Oid, author object.Signature) (*Result, error) {
	baseCommit, err := repo.Commit(base)
	if err != nil {
		return nil, xerrors.Errorf("could not get commit %s: %w", base.String(), err)
	}
	oursCommit, err := repo.Commit(ours)
	if err != nil {
		return nil, xerrors.Errorf("could not get commit %s: %w", ours.String(), err)
	}
	theirsCommit, err := repo.Commit(theirs)
	if err != nil {
		return nil, xerrors.Errorf("could not get commit %s: %w", theirs.String(), err)
	}

	baseEntries, err := gtree.Flatten(repo, baseCommit.TreeID())
	if err != nil {
		return nil, err
	}
	oursEntries, err := gtree.Flatten(repo, oursCommit.TreeID())
	if err != nil {
		return nil, err
	}
	theirsEntries, err := gtree.Flatten(repo, theirsCommit.TreeID())
	if err != nil {
		return nil, err
	}

	paths := map[string]struct{}{}
	for p := range baseEntries {
		paths[p] = struct{}{}
	}
	for p := range oursEntries {
		paths[p] = struct{}{}
	}
	for p := range theirsEntries {
		paths[p] = struct{}{}
	}

	merged := map[string]gtree.Entry{}
	var conflicts []ConflictedPath

	for p := range paths {
		baseEntry, baseOk := baseEntries[p]
		oursEntry, oursOk := oursEntries[p]
		theirsEntry, theirsOk := theirsEntries[p]

		sameSide := oursOk == theirsOk && (!oursOk || oursEntry.Hash == theirsEntry.Hash)
		oursUnchanged := oursOk == baseOk && (!oursOk || oursEntry.Hash == baseEntry.Hash)
		theirsUnchanged := theirsOk == baseOk && (!theirsOk || theirsEntry.Hash == baseEntry.Hash)

		switch {
		case sameSide:
			if oursOk {
				merged[p] = oursEntry
			}
		case oursUnchanged:
			if theirsOk {
				merged[p] = theirsEntry
			}
		case theirsUnchanged:
			if oursOk {
				merged[p] = oursEntry
			}
		default:
			entry, err := conflictEntry(repo, p, oursEntry, oursOk, theirsEntry, theirsOk)
			if err != nil {
				return nil, err
			}
			merged[p] = entry
			conflicts = append(conflicts, ConflictedPath{Path: p, Hash: entry.Hash})
		}
	}

	mergedTreeID, err := gtree.Build(repo, merged)
	if err != nil {
		return nil, xerrors.Errorf("could not build merged tree: %w", err)
	}

	message := fmt.Sprintf("Merge %s into %s", shortName(theirsRefName), shortName(oursRefName))
	commit := object.NewCommit(mergedTreeID, author, &object.CommitOptions{
		Message:   message,
		ParentsID: []ginternals.Oid{ours, theirs},
	})
	commitID, err := repo.WriteObject(commit.ToObject())
	if err != nil {
		return nil, xerrors.Errorf("could not write merge commit: %w", err)
	}

	if _, err := repo.NewReference(oursRefName, commitID); err != nil {
		return nil, xerrors.Errorf("could not update %s: %w", oursRefName, err)
	}

	if fs != nil {
		if err := gtree.Materialize(fs, repo, workingTreeRoot, oursCommit.TreeID(), mergedTreeID); err != nil {
			return nil, xerrors.Errorf("could not materialize merge result: %w", err)
		}
	}

	return &Result{CommitID: commitID, Conflicts: conflicts}, nil
}

// conflictEntry stores a conflict blob: the two sides' contents
// bracketed by Git-style conflict markers.
func conflictEntry(store gtree.Store, p string, oursEntry gtree.Entry, oursOk bool, theirsEntry gtree.Entry, theirsOk bool) (gtree.Entry, error) {
	oursContent, err := blobContent(store, oursEntry, oursOk)
	if err != nil {
		return gtree.Entry{}, err
	}
	theirsContent, err := blobContent(store, theirsEntry, theirsOk)
	if err != nil {
		return gtree.Entry{}, err
	}

	buf := new(bytes.Buffer)
	buf.WriteString("<<<<<<< ours\n")
	buf.Write(oursContent)
	buf.WriteString("=======\n")
	buf.Write(theirsContent)
	buf.WriteString(">>>>>>> theirs\n")

	blob := object.New(object.TypeBlob, buf.Bytes())
	hash, err := store.WriteObject(blob)
	if err != nil {
		return gtree.Entry{}, xerrors.Errorf("could not write conflict blob for %s: %w", p, err)
	}

	mode := object.ModeFile
	if oursOk {
		mode = oursEntry.Mode
	} else if theirsOk {
		mode = theirsEntry.Mode
	}
	return gtree.Entry{Hash: hash, Mode: mode}, nil
}

func blobContent(store gtree.Store, e gtree.Entry, ok bool) ([]byte, error) {
	if !ok {
		return nil, nil
	}
	o, err := store.GetObject(e.Hash)
	if err != nil {
		return nil, xerrors.Errorf("could not get blob %s: %w", e.Hash.String(), err)
	}
	return o.AsBlob().Bytes(), nil
}

func shortName(refName string) string {
	if s := ginternals.LocalBranchShortName(refName); s != refName {
		return s
	}
	return refName
}
