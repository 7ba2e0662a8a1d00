// Package commitgraph walks the commit history of a repository: parent
// traversal and common-ancestor search, the two operations the merge
// engine and the pull-request hooks are built on.
package commitgraph

import (
	"errors"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"golang.org/x/xerrors"
)

// ErrNoCommonAncestor is returned by CommonAncestor when the two commits
// don't share any ancestor (ex. two unrelated root commits)
var ErrNoCommonAncestor = errors.New("commits have no common ancestor")

// CommitGetter is the subset of the object store needed to walk commits.
// Satisfied by *opengit.Repository and backend.Backend (through a thin
// adapter), kept as its own interface here to avoid an import cycle with
// the root package.
type CommitGetter interface {
	Commit(oid ginternals.Oid) (*object.Commit, error)
}

// Walk returns the ancestors of start in first-parent-then-breadth order:
// the first-parent chain (the "mainline") is walked and returned first,
// then every other ancestor is visited breadth-first. until, when not the
// zero Oid, stops the walk at (and excludes) that commit - useful to list
// the commits unique to a branch since it diverged from another.
//
// The returned slice never contains a commit twice.
func Walk(g CommitGetter, start, until ginternals.Oid) ([]ginternals.Oid, error) {
	if start.IsZero() {
		return nil, nil
	}

	seen := hashset.New()
	var out []ginternals.Oid

	// first-parent chain
	var breadthSeeds []ginternals.Oid
	cur := start
	for !cur.IsZero() {
		if !until.IsZero() && cur == until {
			break
		}
		if seen.Contains(cur) {
			break
		}
		seen.Add(cur)
		out = append(out, cur)

		c, err := g.Commit(cur)
		if err != nil {
			return nil, xerrors.Errorf("could not get commit %s: %w", cur.String(), err)
		}
		parents := c.ParentIDs()
		for i, p := range parents {
			if i == 0 {
				continue
			}
			breadthSeeds = append(breadthSeeds, p)
		}

		if len(parents) == 0 {
			break
		}
		cur = parents[0]
	}

	// breadth-first over every non-mainline parent collected above
	queue := linkedlistqueue.New()
	for _, p := range breadthSeeds {
		queue.Enqueue(p)
	}
	for !queue.Empty() {
		v, _ := queue.Dequeue()
		oid := v.(ginternals.Oid)

		if !until.IsZero() && oid == until {
			continue
		}
		if seen.Contains(oid) {
			continue
		}
		seen.Add(oid)
		out = append(out, oid)

		c, err := g.Commit(oid)
		if err != nil {
			return nil, xerrors.Errorf("could not get commit %s: %w", oid.String(), err)
		}
		for _, p := range c.ParentIDs() {
			if !seen.Contains(p) {
				queue.Enqueue(p)
			}
		}
	}

	return out, nil
}

// ancestorSet returns the full set of ancestors of start, start included
func ancestorSet(g CommitGetter, start ginternals.Oid) (*hashset.Set, error) {
	set := hashset.New()
	queue := linkedlistqueue.New()
	queue.Enqueue(start)
	set.Add(start)

	for !queue.Empty() {
		v, _ := queue.Dequeue()
		oid := v.(ginternals.Oid)

		c, err := g.Commit(oid)
		if err != nil {
			return nil, xerrors.Errorf("could not get commit %s: %w", oid.String(), err)
		}
		for _, p := range c.ParentIDs() {
			if !set.Contains(p) {
				set.Add(p)
				queue.Enqueue(p)
			}
		}
	}
	return set, nil
}

// CommonAncestor returns the most recently reached commit that is an
// ancestor of both a and b (a and b included). It enumerates a's full
// ancestor set, then walks b's ancestry breadth-first and returns the
// first hit; ErrNoCommonAncestor is returned if the two histories never
// meet.
func CommonAncestor(g CommitGetter, a, b ginternals.Oid) (ginternals.Oid, error) {
	if a == b {
		return a, nil
	}

	ancestorsOfA, err := ancestorSet(g, a)
	if err != nil {
		return ginternals.NullOid, err
	}

	seen := hashset.New()
	queue := linkedlistqueue.New()
	queue.Enqueue(b)
	seen.Add(b)

	for !queue.Empty() {
		v, _ := queue.Dequeue()
		oid := v.(ginternals.Oid)

		if ancestorsOfA.Contains(oid) {
			return oid, nil
		}

		c, err := g.Commit(oid)
		if err != nil {
			return ginternals.NullOid, xerrors.Errorf("could not get commit %s: %w", oid.String(), err)
		}
		for _, p := range c.ParentIDs() {
			if !seen.Contains(p) {
				seen.Add(p)
				queue.Enqueue(p)
			}
		}
	}

	return ginternals.NullOid, ErrNoCommonAncestor
}
