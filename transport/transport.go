// Package transport implements the upload-pack (fetch) and receive-pack
// (push) wire protocols on top of pktline framing and the packfile
// codec. Both handlers take a *bufio.Reader and a *bufio.Writer: neither
// cares whether they wrap a TCP socket, an in-memory pipe (for tests) or
// anything else that can read, write and flush.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/opengit/opengit/ginternals/packfile"
	"github.com/opengit/opengit/pktline"
	"golang.org/x/xerrors"
)

// Service names advertised in the first pkt-line of a request, used by
// the server to pick a handler.
const (
	ServiceUploadPack  = "git-upload-pack"
	ServiceReceivePack = "git-receive-pack"
)

// Capabilities advertised by the server. They're parsed and discarded:
// per the protocol they never change the byte stream produced.
const Capabilities = "multi_ack_detailed side-band-64k"

// ErrProtocolViolation is returned when a peer sends a message that
// doesn't fit the expected state of the protocol
var ErrProtocolViolation = errors.New("protocol violation")

// Repo is the subset of *opengit.Repository the wire protocol needs
type Repo interface {
	GetObject(oid ginternals.Oid) (*object.Object, error)
	WriteObject(o *object.Object) (ginternals.Oid, error)
	HasObject(oid ginternals.Oid) (bool, error)
	Commit(oid ginternals.Oid) (*object.Commit, error)
	Reference(name string) (*ginternals.Reference, error)
	NewReference(name string, target ginternals.Oid) (*ginternals.Reference, error)
	WalkReferences(f func(ref *ginternals.Reference) error) error
}

// RequestLine is the first pkt-line of a session:
// "<service> <repo-path>\0host=<host>\0..."
type RequestLine struct {
	Service  string
	RepoPath string
	Host     string
}

// ReadRequestLine reads and parses the very first pkt-line a client
// sends when opening a connection.
func ReadRequestLine(r *bufio.Reader) (*RequestLine, error) {
	_, payload, err := pktline.ReadFrame(r)
	if err != nil {
		return nil, xerrors.Errorf("could not read request line: %w", err)
	}
	parts := bytes.Split(bytes.TrimRight(payload, "\x00"), []byte{0})
	if len(parts) == 0 {
		return nil, xerrors.Errorf("empty request line: %w", ErrProtocolViolation)
	}
	fields := strings.SplitN(string(parts[0]), " ", 2)
	if len(fields) != 2 {
		return nil, xerrors.Errorf("malformed request %q: %w", parts[0], ErrProtocolViolation)
	}
	req := &RequestLine{Service: fields[0], RepoPath: fields[1]}
	for _, p := range parts[1:] {
		if s := string(p); strings.HasPrefix(s, "host=") {
			req.Host = strings.TrimPrefix(s, "host=")
		}
	}
	return req, nil
}

// WriteRequestLine writes the client side of ReadRequestLine
func WriteRequestLine(w *bufio.Writer, service, repoPath, host string) error {
	payload := fmt.Sprintf("%s %s\x00host=%s\x00", service, repoPath, host)
	if service == ServiceUploadPack {
		payload += "\x00version=1\x00"
	}
	if err := pktline.WriteFrame(w, []byte(payload)); err != nil {
		return err
	}
	return w.Flush()
}

// advertiseRefs writes every reference as a sequence of pkt-lines
// ("<hash> <refname>", the first one followed by "\0<capabilities>"),
// terminated by a flush packet.
func advertiseRefs(w *bufio.Writer, repo Repo) error {
	first := true
	var walkErr error
	err := repo.WalkReferences(func(ref *ginternals.Reference) error {
		if ref.Type() != ginternals.OidReference {
			return nil
		}
		line := fmt.Sprintf("%s %s", ref.Target().String(), ref.Name())
		if first {
			line = fmt.Sprintf("%s\x00%s", line, Capabilities)
			first = false
		}
		line += "\n"
		if err := pktline.WriteFrame(w, []byte(line)); err != nil {
			walkErr = err
			return err
		}
		return nil
	})
	if err != nil && walkErr == nil {
		return xerrors.Errorf("could not walk references: %w", err)
	}
	if walkErr != nil {
		return walkErr
	}
	if first {
		// no refs at all: the capability line still needs to go out,
		// advertised against the zero Oid, matching real Git servers
		line := fmt.Sprintf("%s capabilities^{}\x00%s\n", ginternals.NullOid.String(), Capabilities)
		if err := pktline.WriteFrame(w, []byte(line)); err != nil {
			return err
		}
	}
	return pktline.WriteFlush(w)
}

func reachable(repo Repo, roots []ginternals.Oid) (map[ginternals.Oid]struct{}, error) {
	seen := map[ginternals.Oid]struct{}{}
	queue := append([]ginternals.Oid{}, roots...)
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		if oid.IsZero() {
			continue
		}
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}

		c, err := repo.Commit(oid)
		if err != nil {
			continue // not every root is guaranteed to resolve; be lenient like "have" negotiation
		}
		queue = append(queue, c.ParentIDs()...)
		if err := walkTreeObjects(repo, c.TreeID(), seen); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

func walkTreeObjects(repo Repo, treeID ginternals.Oid, seen map[ginternals.Oid]struct{}) error {
	if treeID.IsZero() {
		return nil
	}
	if _, ok := seen[treeID]; ok {
		return nil
	}
	seen[treeID] = struct{}{}

	o, err := repo.GetObject(treeID)
	if err != nil {
		return xerrors.Errorf("could not get tree %s: %w", treeID.String(), err)
	}
	tree, err := o.AsTree()
	if err != nil {
		return xerrors.Errorf("could not parse tree %s: %w", treeID.String(), err)
	}
	for _, e := range tree.Entries() {
		if e.Mode == object.ModeDirectory {
			if err := walkTreeObjects(repo, e.ID, seen); err != nil {
				return err
			}
			continue
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

func collectObjects(repo Repo, oids map[ginternals.Oid]struct{}) ([]*object.Object, error) {
	out := make([]*object.Object, 0, len(oids))
	for oid := range oids {
		o, err := repo.GetObject(oid)
		if err != nil {
			return nil, xerrors.Errorf("could not get object %s: %w", oid.String(), err)
		}
		out = append(out, o)
	}
	return out, nil
}
