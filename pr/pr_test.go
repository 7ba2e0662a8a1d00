package pr_test

import (
	"path/filepath"
	"testing"
	"time"

	opengit "github.com/opengit/opengit"
	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/opengit/opengit/internal/testhelper"
	"github.com/opengit/opengit/pr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *opengit.Repository {
	t.Helper()
	dir, cleanup := testhelper.TempDir(t)
	t.Cleanup(cleanup)
	r, err := opengit.InitRepository(filepath.Join(dir, ".git"))
	require.NoError(t, err)
	return r
}

func commit(t *testing.T, r *opengit.Repository, path, content, message string, parents ...ginternals.Oid) ginternals.Oid {
	t.Helper()
	blobID, err := r.WriteObject(object.New(object.TypeBlob, []byte(content)))
	require.NoError(t, err)
	tree := object.NewTree([]object.TreeEntry{{Path: path, ID: blobID, Mode: object.ModeFile}})
	treeID, err := r.WriteObject(tree.ToObject())
	require.NoError(t, err)
	c := object.NewCommit(treeID, object.NewSignature("tester", "tester@example.com"), &object.CommitOptions{
		Message:   message,
		ParentsID: parents,
	})
	id, err := r.WriteObject(c.ToObject())
	require.NoError(t, err)
	return id
}

func TestListCommitsBetween(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	base := commit(t, r, "a.txt", "a\n", "base")
	_, err := r.NewReference(ginternals.LocalBranchFullName("main"), base)
	require.NoError(t, err)

	feature1 := commit(t, r, "b.txt", "b\n", "feature 1", base)
	feature2 := commit(t, r, "c.txt", "c\n", "feature 2", feature1)
	_, err = r.NewReference(ginternals.LocalBranchFullName("feature"), feature2)
	require.NoError(t, err)

	commits, err := pr.ListCommitsBetween(r, "feature", "main")
	require.NoError(t, err)
	assert.Equal(t, []ginternals.Oid{feature2, feature1}, commits)
}

func TestMergePullRequest(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	base := commit(t, r, "a.txt", "a\n", "base")
	_, err := r.NewReference(ginternals.LocalBranchFullName("main"), base)
	require.NoError(t, err)

	feature := commit(t, r, "b.txt", "b\n", "feature work", base)
	_, err = r.NewReference(ginternals.LocalBranchFullName("feature"), feature)
	require.NoError(t, err)

	store, err := pr.OpenStore(afero.NewMemMapFs(), "demo", "/prs/demo.json")
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p, err := store.Create("add feature", "", "feature", "main", now)
	require.NoError(t, err)
	assert.Equal(t, pr.StateOpen, p.State)

	author := object.NewSignature("merger", "merger@example.com")
	result, err := pr.MergePullRequest(r, nil, "", store, p.Number, author, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, result.FastForward)
	assert.Equal(t, feature, result.CommitID)

	stored, ok := store.Get(p.Number)
	require.True(t, ok)
	assert.Equal(t, pr.StateMerged, stored.State)
	assert.Equal(t, feature.String(), stored.MergeCommit)
}
