// Package opengit exposes a Repository type that ties together the object
// database, the reference store, and the on-disk layout of a .git directory.
package opengit

import (
	"errors"
	"path/filepath"

	"github.com/opengit/opengit/backend"
	"github.com/opengit/opengit/backend/fsbackend"
	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/config"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// List of errors returned by the Repository struct
var (
	ErrRepositoryNotExist           = errors.New("repository does not exist")
	ErrRepositoryUnsupportedVersion = errors.New("repository not supported")
	ErrRepositoryExists             = errors.New("repository already exists")
)

// Repository represents a git repository
// A Git repository is the .git/ folder inside a project. This repository
// tracks all changes made to files in your project, building a history
// over time.
type Repository struct {
	// Config holds the resolved configuration used to open/init the repo
	Config *config.Config

	dotGit backend.Backend
	wt     afero.Fs
}

// InitOptions contains all the optional data used to initialize a repository
type InitOptions struct {
	// IsBare represents whether a bare repository will be created or not
	IsBare bool
	// InitialBranchName is the name given to the initial branch HEAD
	// points to. Defaults to ginternals.Master.
	InitialBranchName string
	// Symlink states whether the .git directory should be a symlink-like
	// pointer file instead of a real directory (git's --separate-git-dir)
	Symlink bool
	// GitBackend represents the underlying backend to use to init the
	// repository and interact with the odb.
	// By default the filesystem will be used
	GitBackend backend.Backend
	// WorkingTreeBackend represents the underlying backend to use to
	// interact with the working tree.
	// By default the filesystem will be used. Unused if IsBare is set.
	WorkingTreeBackend afero.Fs
}

// InitRepository initializes a new git repository in the given directory
func InitRepository(repoPath string) (*Repository, error) {
	cfg, err := config.LoadConfigSkipEnv(config.LoadConfigOptions{
		WorkingDirectory: repoPath,
		GitDirPath:       repoPath,
		SkipGitDirLookUp: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("could not create config: %w", err)
	}
	return InitRepositoryWithParams(cfg, InitOptions{})
}

// InitRepositoryWithParams initializes a new git repository using the
// given config, creating the .git directory, which is where almost
// everything that Git stores and manipulates is located.
func InitRepositoryWithParams(cfg *config.Config, opts InitOptions) (*Repository, error) {
	r := &Repository{Config: cfg}

	r.dotGit = opts.GitBackend
	if r.dotGit == nil {
		b, err := fsbackend.New(cfg.GitDirPath)
		if err != nil {
			return nil, xerrors.Errorf("could not create backend: %w", err)
		}
		r.dotGit = b
	}

	if !opts.IsBare {
		r.wt = opts.WorkingTreeBackend
		if r.wt == nil {
			r.wt = afero.NewOsFs()
		}
	}

	if err := r.dotGit.Init(); err != nil {
		return nil, xerrors.Errorf("could not init backend: %w", err)
	}

	if opts.Symlink && r.wt != nil {
		pointer := filepath.Join(cfg.WorkTreePath, config.DefaultDotGitDirName)
		if err := afero.WriteFile(r.wt, pointer, []byte("gitdir: "+cfg.GitDirPath+"\n"), 0o644); err != nil {
			return nil, xerrors.Errorf("could not write %s: %w", pointer, err)
		}
	}

	branchName := opts.InitialBranchName
	if branchName == "" {
		branchName = ginternals.Master
	}
	ref := ginternals.NewSymbolicReference(ginternals.Head, ginternals.LocalBranchFullName(branchName))
	if err := r.dotGit.WriteReferenceSafe(ref); err != nil {
		if xerrors.Is(err, ginternals.ErrRefExists) {
			return r, nil
		}
		return nil, xerrors.Errorf("could not write HEAD: %w", err)
	}

	return r, nil
}

// OpenOptions contains all the optional data used to open a repository
type OpenOptions struct {
	// IsBare represents whether the repository has no working tree
	IsBare bool
	// GitBackend represents the underlying backend to use to interact
	// with the odb. By default the filesystem will be used
	GitBackend backend.Backend
	// WorkingTreeBackend represents the underlying backend to use to
	// interact with the working tree. By default the filesystem will
	// be used. Unused if IsBare is set.
	WorkingTreeBackend afero.Fs
}

// OpenRepository loads an existing git repository rooted at repoPath
func OpenRepository(repoPath string) (*Repository, error) {
	cfg, err := config.LoadConfigSkipEnv(config.LoadConfigOptions{
		WorkingDirectory: repoPath,
		GitDirPath:       repoPath,
		SkipGitDirLookUp: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("could not create config: %w", err)
	}
	return OpenRepositoryWithParams(cfg, OpenOptions{})
}

// OpenRepositoryWithParams loads an existing git repository using the
// given config
func OpenRepositoryWithParams(cfg *config.Config, opts OpenOptions) (*Repository, error) {
	r := &Repository{Config: cfg}

	r.dotGit = opts.GitBackend
	if r.dotGit == nil {
		b, err := fsbackend.New(cfg.GitDirPath)
		if err != nil {
			return nil, xerrors.Errorf("could not create backend: %w", err)
		}
		r.dotGit = b
	}

	if !opts.IsBare {
		r.wt = opts.WorkingTreeBackend
		if r.wt == nil {
			r.wt = afero.NewOsFs()
		}
	}

	// since we can't check if the directory exists on disk to validate
	// if the repo exists, we instead check that HEAD resolves, since it
	// should always be there
	if _, err := r.dotGit.Reference(ginternals.Head); err != nil {
		return nil, ErrRepositoryNotExist
	}

	return r, nil
}

// IsBare returns whether the repository has no working tree
func (r *Repository) IsBare() bool {
	return r.wt == nil
}

// Close frees the resources held by the repository
func (r *Repository) Close() error {
	return r.dotGit.Close()
}

// GetObject returns the object matching the given Oid
func (r *Repository) GetObject(oid ginternals.Oid) (*object.Object, error) {
	return r.dotGit.Object(oid)
}

// WriteObject writes an object in the odb and returns its Oid
func (r *Repository) WriteObject(o *object.Object) (ginternals.Oid, error) {
	return r.dotGit.WriteObject(o)
}

// HasObject returns whether an object exists in the odb
func (r *Repository) HasObject(oid ginternals.Oid) (bool, error) {
	return r.dotGit.HasObject(oid)
}

// Commit returns the commit object matching the given Oid
func (r *Repository) Commit(oid ginternals.Oid) (*object.Commit, error) {
	o, err := r.GetObject(oid)
	if err != nil {
		return nil, xerrors.Errorf("could not get object %s: %w", oid.String(), err)
	}
	return o.AsCommit()
}

// Reference returns the reference matching the given name.
// The name can be a full ref name (refs/heads/master) or a special name
// such as HEAD.
func (r *Repository) Reference(name string) (*ginternals.Reference, error) {
	return r.dotGit.Reference(name)
}

// GetReference is an alias of Reference kept for callers that prefer the
// explicit Get prefix (ex. cat-file's ref resolution)
func (r *Repository) GetReference(name string) (*ginternals.Reference, error) {
	return r.Reference(name)
}

// NewReference creates and persists a new reference pointing at an Oid
func (r *Repository) NewReference(name string, target ginternals.Oid) (*ginternals.Reference, error) {
	ref := ginternals.NewReference(name, target)
	if err := r.dotGit.WriteReference(ref); err != nil {
		return nil, xerrors.Errorf("could not write reference %s: %w", name, err)
	}
	return ref, nil
}

// NewSymbolicReference creates and persists a new reference pointing at
// another reference
func (r *Repository) NewSymbolicReference(name, target string) (*ginternals.Reference, error) {
	ref := ginternals.NewSymbolicReference(name, target)
	if err := r.dotGit.WriteReference(ref); err != nil {
		return nil, xerrors.Errorf("could not write reference %s: %w", name, err)
	}
	return ref, nil
}

// WalkReferences runs f on every reference stored in the repository
func (r *Repository) WalkReferences(f backend.RefWalkFunc) error {
	return r.dotGit.WalkReferences(f)
}
