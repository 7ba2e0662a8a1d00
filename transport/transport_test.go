package transport_test

import (
	"bufio"
	"io"
	"path/filepath"
	"testing"

	opengit "github.com/opengit/opengit"
	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/opengit/opengit/ginternals/packfile"
	"github.com/opengit/opengit/internal/testhelper"
	"github.com/opengit/opengit/pktline"
	"github.com/opengit/opengit/transport"
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

func commitBlob(t *testing.T, r *opengit.Repository, content, message string, parents ...ginternals.Oid) ginternals.Oid {
	t.Helper()

	blobID, err := r.WriteObject(object.New(object.TypeBlob, []byte(content)))
	require.NoError(t, err)

	tree := object.NewTree([]object.TreeEntry{{Path: "file.txt", ID: blobID, Mode: object.ModeFile}})
	treeID, err := r.WriteObject(tree.ToObject())
	require.NoError(t, err)

	commit := object.NewCommit(treeID, object.NewSignature("tester", "tester@example.com"), &object.CommitOptions{
		Message:   message,
		ParentsID: parents,
	})
	commitID, err := r.WriteObject(commit.ToObject())
	require.NoError(t, err)
	return commitID
}

func TestUploadPack(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	c1 := commitBlob(t, r, "hello\n", "first")
	_, err := r.NewReference(ginternals.LocalBranchFullName("main"), c1)
	require.NoError(t, err)

	serverRead, clientWrite := io.Pipe()
	clientRead, serverWrite := io.Pipe()

	go func() {
		sr := bufio.NewReader(serverRead)
		sw := bufio.NewWriter(serverWrite)
		_ = transport.UploadPack(sr, sw, r)
		_ = serverWrite.Close()
	}()

	cr := bufio.NewReader(clientRead)
	cw := bufio.NewWriter(clientWrite)

	// drain the ref advertisement
	for {
		_, payload, err := pktline.ReadFrame(cr)
		require.NoError(t, err)
		if len(payload) == 0 {
			break
		}
	}

	require.NoError(t, pktline.WriteFrame(cw, []byte("want "+c1.String()+"\n")))
	require.NoError(t, pktline.WriteFlush(cw))
	require.NoError(t, pktline.WriteFrame(cw, []byte("done\n")))
	require.NoError(t, cw.Flush())

	_, nak, err := pktline.ReadFrame(cr)
	require.NoError(t, err)
	assert.Equal(t, "NAK\n", string(nak))

	objects, err := packfile.ReadPack(cr)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(objects), 3) // commit + tree + blob

	_ = clientWrite.Close()
}

func TestReceivePack(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	refName := ginternals.LocalBranchFullName("main")

	serverRead, clientWrite := io.Pipe()
	clientRead, serverWrite := io.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		sr := bufio.NewReader(serverRead)
		sw := bufio.NewWriter(serverWrite)
		serverDone <- transport.ReceivePack(sr, sw, r)
		_ = serverWrite.Close()
	}()

	cr := bufio.NewReader(clientRead)
	cw := bufio.NewWriter(clientWrite)

	for {
		_, payload, err := pktline.ReadFrame(cr)
		require.NoError(t, err)
		if len(payload) == 0 {
			break
		}
	}

	blob := object.New(object.TypeBlob, []byte("hello\n"))
	tree := object.NewTree([]object.TreeEntry{{Path: "file.txt", ID: blob.ID(), Mode: object.ModeFile}})
	commit := object.NewCommit(tree.ID(), object.NewSignature("tester", "tester@example.com"), &object.CommitOptions{Message: "first"})

	update := ginternals.NullOid.String() + " " + commit.ID().String() + " " + refName + "\n"
	require.NoError(t, pktline.WriteFrame(cw, []byte(update)))
	require.NoError(t, pktline.WriteFlush(cw))
	require.NoError(t, cw.Flush())

	require.NoError(t, packfile.WritePack(cw, []*object.Object{blob, tree.ToObject(), commit.ToObject()}))
	require.NoError(t, cw.Flush())

	_, status, err := pktline.ReadFrame(cr)
	require.NoError(t, err)
	assert.Equal(t, "unpack ok\n", string(status))

	_, status, err = pktline.ReadFrame(cr)
	require.NoError(t, err)
	assert.Equal(t, "ok "+refName+"\n", string(status))

	_ = clientWrite.Close()
	require.NoError(t, <-serverDone)

	stored, err := r.Reference(refName)
	require.NoError(t, err)
	assert.Equal(t, commit.ID(), stored.Target())
}
