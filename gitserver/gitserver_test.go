package gitserver_test

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"testing"

	opengit "github.com/opengit/opengit"
	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/opengit/opengit/ginternals/packfile"
	"github.com/opengit/opengit/gitserver"
	"github.com/opengit/opengit/internal/testhelper"
	"github.com/opengit/opengit/pktline"
	"github.com/opengit/opengit/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_UploadPack(t *testing.T) {
	t.Parallel()

	dir, cleanup := testhelper.TempDir(t)
	t.Cleanup(cleanup)

	r, err := opengit.InitRepository(filepath.Join(dir, ".git"))
	require.NoError(t, err)

	blobID, err := r.WriteObject(object.New(object.TypeBlob, []byte("hi\n")))
	require.NoError(t, err)
	tree := object.NewTree([]object.TreeEntry{{Path: "f.txt", ID: blobID, Mode: object.ModeFile}})
	treeID, err := r.WriteObject(tree.ToObject())
	require.NoError(t, err)
	commit := object.NewCommit(treeID, object.NewSignature("tester", "tester@example.com"), &object.CommitOptions{Message: "first"})
	commitID, err := r.WriteObject(commit.ToObject())
	require.NoError(t, err)
	_, err = r.NewReference(ginternals.LocalBranchFullName("main"), commitID)
	require.NoError(t, err)

	srv := gitserver.New("127.0.0.1:0", func(repoPath string) (transport.Repo, error) {
		return r, nil
	})

	require.NoError(t, srv.Listen())
	go func() {
		_ = srv.Serve()
	}()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck
	defer srv.Close()  //nolint:errcheck

	w := bufio.NewWriter(conn)
	require.NoError(t, transport.WriteRequestLine(w, transport.ServiceUploadPack, "/repo.git", "localhost"))

	r2 := bufio.NewReader(conn)
	for {
		_, payload, err := pktline.ReadFrame(r2)
		require.NoError(t, err)
		if len(payload) == 0 {
			break
		}
	}

	require.NoError(t, pktline.WriteFrame(w, []byte(fmt.Sprintf("want %s\n", commitID))))
	require.NoError(t, pktline.WriteFlush(w))
	require.NoError(t, pktline.WriteFrame(w, []byte("done\n")))
	require.NoError(t, w.Flush())

	_, nak, err := pktline.ReadFrame(r2)
	require.NoError(t, err)
	assert.Equal(t, "NAK\n", string(nak))

	objects, err := packfile.ReadPack(r2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(objects), 3)
}
