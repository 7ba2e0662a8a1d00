// Package pr implements the pull-request hooks on top of the commit graph
// and merge engine: listing the commits a branch would bring in, and
// merging it. A small JSON-backed store tracks pull-request metadata
// (title, description, branches, state) alongside the object store.
package pr

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/commitgraph"
	"github.com/opengit/opengit/ginternals/gtree"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/opengit/opengit/merge"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// State is the lifecycle state of a pull request.
type State string

// Pull requests move open -> merged or open -> closed, never back.
const (
	StateOpen   State = "open"
	StateMerged State = "merged"
	StateClosed State = "closed"
)

// PullRequest is one entry tracked by a Store.
type PullRequest struct {
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	SourceBranch  string     `json:"source_branch"`
	TargetBranch  string     `json:"target_branch"`
	State         State      `json:"state"`
	MergeCommit   string     `json:"merge_commit,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

type document struct {
	Name         string               `json:"name"`
	PRCount      int                  `json:"pr_count"`
	PullRequests map[int]*PullRequest `json:"pull_requests"`
}

// Repo is the subset of *opengit.Repository the pull-request hooks need.
type Repo interface {
	gtree.Store
	Commit(oid ginternals.Oid) (*object.Commit, error)
	Reference(name string) (*ginternals.Reference, error)
	NewReference(name string, target ginternals.Oid) (*ginternals.Reference, error)
}

// Store persists pull-request metadata for one repository as a single
// JSON file (prs/<name>.json). It is safe for concurrent use.
type Store struct {
	fs   afero.Fs
	path string

	mu  sync.Mutex
	doc document
}

// OpenStore loads (or creates) the pull-request store at path on fs.
func OpenStore(fs afero.Fs, repoName, path string) (*Store, error) {
	s := &Store{fs: fs, path: path}

	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		s.doc = document{Name: repoName, PullRequests: map[int]*PullRequest{}}
		return s, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("could not read pull request store %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, xerrors.Errorf("could not parse pull request store %s: %w", path, err)
	}
	if s.doc.PullRequests == nil {
		s.doc.PullRequests = map[int]*PullRequest{}
	}
	return s, nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return xerrors.Errorf("could not encode pull request store: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return xerrors.Errorf("could not create pull request store directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return xerrors.Errorf("could not write pull request store %s: %w", s.path, err)
	}
	return nil
}

// Create records a new open pull request and returns it.
func (s *Store) Create(title, description, sourceBranch, targetBranch string, now time.Time) (*PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.PRCount++
	p := &PullRequest{
		Number:       s.doc.PRCount,
		Title:        title,
		Description:  description,
		SourceBranch: sourceBranch,
		TargetBranch: targetBranch,
		State:        StateOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.doc.PullRequests[p.Number] = p
	if err := s.save(); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the pull request with the given number.
func (s *Store) Get(number int) (*PullRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doc.PullRequests[number]
	return p, ok
}

// Close marks an open pull request as closed without merging it.
func (s *Store) Close(number int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doc.PullRequests[number]
	if !ok {
		return xerrors.Errorf("pull request %d: %w", number, ErrNotFound)
	}
	if p.State != StateOpen {
		return xerrors.Errorf("pull request %d is %s, not open: %w", number, p.State, ErrNotOpen)
	}
	p.State = StateClosed
	p.UpdatedAt = now
	p.ClosedAt = &now
	return s.save()
}

func (s *Store) markMerged(number int, commitID ginternals.Oid, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doc.PullRequests[number]
	if !ok {
		return xerrors.Errorf("pull request %d: %w", number, ErrNotFound)
	}
	p.State = StateMerged
	p.MergeCommit = commitID.String()
	p.UpdatedAt = now
	p.ClosedAt = &now
	return s.save()
}

// ErrNotFound is returned when acting on a pull request number the store
// doesn't know about.
var ErrNotFound = errors.New("pull request not found")

// ListCommitsBetween resolves src and dst to commits, finds their common
// ancestor, and walks src backwards stopping at (and excluding) that
// ancestor - the commits a merge of src into dst would bring in.
func ListCommitsBetween(repo Repo, srcBranch, dstBranch string) ([]ginternals.Oid, error) {
	src, err := resolveBranchCommit(repo, srcBranch)
	if err != nil {
		return nil, err
	}
	dst, err := resolveBranchCommit(repo, dstBranch)
	if err != nil {
		return nil, err
	}

	ancestor, err := commitgraph.CommonAncestor(repo, src, dst)
	if err != nil {
		return nil, err
	}

	return commitgraph.Walk(repo, src, ancestor)
}

// MergePullRequest merges a pull request's source branch into its target
// branch (ours=target, theirs=source) and, on success, marks it merged
// with the resulting commit.
func MergePullRequest(repo merge.Repo, fs afero.Fs, workingTreeRoot string, store *Store, number int, author object.Signature, now time.Time) (*merge.Result, error) {
	p, ok := store.Get(number)
	if !ok {
		return nil, xerrors.Errorf("pull request %d: %w", number, ErrNotFound)
	}
	if p.State != StateOpen {
		return nil, xerrors.Errorf("pull request %d is %s, not open: %w", number, p.State, ErrNotOpen)
	}

	oursRef := ginternals.LocalBranchFullName(p.TargetBranch)
	theirsRef := ginternals.LocalBranchFullName(p.SourceBranch)

	result, err := merge.Merge(repo, fs, workingTreeRoot, oursRef, theirsRef, author)
	if err != nil {
		return nil, err
	}
	if len(result.Conflicts) > 0 {
		return result, nil
	}

	if err := store.markMerged(number, result.CommitID, now); err != nil {
		return nil, err
	}
	return result, nil
}

// ErrNotOpen is returned when merging or closing a pull request that
// isn't in the open state.
var ErrNotOpen = errors.New("pull request is not open")

func resolveBranchCommit(repo Repo, branch string) (ginternals.Oid, error) {
	ref, err := repo.Reference(ginternals.LocalBranchFullName(branch))
	if err != nil {
		return ginternals.NullOid, xerrors.Errorf("could not resolve branch %s: %w", branch, err)
	}
	return ref.Target(), nil
}
