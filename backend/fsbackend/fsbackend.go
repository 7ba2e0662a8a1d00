// Package fsbackend contains an implementation of the backend.Backend
// interface for the filesystem
package fsbackend

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/opengit/opengit/backend"
	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/packfile"
	"github.com/opengit/opengit/internal/cache"
	"github.com/opengit/opengit/internal/gitpath"
	"github.com/opengit/opengit/internal/syncutil"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// we make sure the struct implements the interface
var _ backend.Backend = (*Backend)(nil)

// mutexStripes is the number of stripes used by the object store's
// keyed mutex. Collisions just serialize unrelated objects, they never
// cause incorrect behavior.
const mutexStripes = 256

// objectCacheSize bounds how many decoded objects are kept in memory.
const objectCacheSize = 256

// Backend is a Backend implementation that uses the filesystem to store data
type Backend struct {
	root string
	fs   afero.Fs

	cache        *cache.LRU
	objectMu     *syncutil.NamedMutex
	looseObjects sync.Map
	packfiles    map[ginternals.Oid]*packfile.Pack
}

// New returns a new Backend object rooted at the given .git directory
func New(dotGitPath string) (*Backend, error) {
	lru, err := cache.NewLRU(objectCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("could not create object cache: %w", err)
	}

	b := &Backend{
		root:      dotGitPath,
		fs:        afero.NewOsFs(),
		cache:     lru,
		objectMu:  syncutil.NewNamedMutex(mutexStripes),
		packfiles: map[ginternals.Oid]*packfile.Pack{},
	}

	if err := b.loadPacks(); err != nil {
		return nil, xerrors.Errorf("could not load packfiles: %w", err)
	}
	if err := b.loadLooseObject(); err != nil {
		return nil, xerrors.Errorf("could not load loose objects: %w", err)
	}

	return b, nil
}

// Path returns the path to the .git directory
func (b *Backend) Path() string {
	return b.root
}

// ObjectsPath returns the path to the object database
func (b *Backend) ObjectsPath() string {
	return filepath.Join(b.root, gitpath.ObjectsPath)
}

// Close frees the resources held by the backend
func (b *Backend) Close() error {
	var firstErr error
	for _, pack := range b.packfiles {
		if err := pack.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Init initializes a repository
func (b *Backend) Init() error {
	// Create the directories
	dirs := []string{
		gitpath.ObjectsPath,
		gitpath.RefsTagsPath,
		gitpath.RefsHeadsPath,
		gitpath.ObjectsInfoPath,
		gitpath.ObjectsPackPath,
	}
	for _, d := range dirs {
		fullPath := filepath.Join(b.root, d)
		if err := b.fs.MkdirAll(fullPath, 0o750); err != nil {
			return xerrors.Errorf("could not create directory %s: %w", d, err)
		}
	}

	// Create the files with the default content
	// (taken from a repo created on github)
	files := []struct {
		path    string
		content []byte
	}{
		{
			path:    gitpath.DescriptionPath,
			content: []byte("Unnamed repository; edit this file 'description' to name the repository.\n"),
		},
	}
	for _, f := range files {
		fullPath := filepath.Join(b.root, f.path)
		if _, err := b.fs.Stat(fullPath); err == nil {
			continue
		}
		err := afero.WriteFile(b.fs, fullPath, f.content, 0o644)
		if err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("could not create file %s: %w", f.path, err)
		}
	}

	if _, err := b.fs.Stat(filepath.Join(b.root, gitpath.ConfigPath)); os.IsNotExist(err) {
		if err := b.setDefaultCfg(); err != nil {
			return xerrors.Errorf("could not set the default config: %w", err)
		}
	}

	return nil
}
