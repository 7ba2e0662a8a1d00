package object_test

import (
	"testing"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommit(t *testing.T) *object.Commit {
	t.Helper()

	treeID, err := ginternals.NewOidFromStr("e5b9e846e1b468bc9597ff95d71dfacda8bd54e3")
	require.NoError(t, err)

	return object.NewCommit(treeID, object.NewSignature("author", "author@domain.tld"), &object.CommitOptions{
		Message: "a message",
	})
}

func TestNewTag(t *testing.T) {
	t.Run("NewTag with all data sets", func(t *testing.T) {
		t.Parallel()

		commit := newTestCommit(t)

		tag := object.NewTag(&object.TagParams{
			Target:    commit.ToObject(),
			Message:   "message",
			OptGPGSig: "gpgsig",
			Name:      "v10.5.0",
			Tagger:    object.NewSignature("tagger", "tagger@domain.tld"),
		})
		assert.True(t, tag.ID().IsZero(), "")
		assert.Equal(t, commit.ID(), tag.Target())
		assert.Equal(t, object.TypeCommit, tag.Type())
		assert.Equal(t, "message", tag.Message())
		assert.Equal(t, "v10.5.0", tag.Name())
		assert.Equal(t, "gpgsig", tag.GPGSig())
		assert.Equal(t, "tagger", tag.Tagger().Name)
	})
}

func TestTagToObject(t *testing.T) {
	t.Run("ToObject should return the raw object", func(t *testing.T) {
		t.Parallel()

		commit := newTestCommit(t)
		tag := object.NewTag(&object.TagParams{
			Target:  commit.ToObject(),
			Message: "message",
			Name:    "v10.5.0",
			Tagger:  object.NewSignature("tagger", "tagger@domain.tld"),
		})

		o := tag.ToObject()
		reloaded, err := o.AsTag()
		require.NoError(t, err)
		assert.Equal(t, tag.ID(), reloaded.ID())
	})

	t.Run("happy path on NewTag", func(t *testing.T) {
		t.Parallel()

		commit := newTestCommit(t)
		tag := object.NewTag(&object.TagParams{
			Target:    commit.ToObject(),
			Message:   "message",
			Name:      "v10.5.0",
			OptGPGSig: "-----BEGIN PGP SIGNATURE-----\n\ndata\n-----END PGP SIGNATURE-----",
			Tagger:    object.NewSignature("tagger", "tagger@domain.tld"),
		})

		o := tag.ToObject()
		tag2, err := o.AsTag()
		require.NoError(t, err)

		assert.Equal(t, tag.Message(), tag2.Message())
		assert.Equal(t, tag.Tagger().Name, tag2.Tagger().Name)
		assert.Equal(t, tag.Name(), tag2.Name())
		assert.Equal(t, tag.GPGSig(), tag2.GPGSig())
		assert.Equal(t, tag.Target(), tag2.Target())
	})
}
