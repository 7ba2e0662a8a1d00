package transport

import (
	"bufio"
	"strings"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/packfile"
	"github.com/opengit/opengit/pktline"
	"golang.org/x/xerrors"
)

// UploadPack serves the fetch side of the protocol, reading from r and
// writing to w: it advertises every ref, reads the client's wants/haves,
// then streams a packfile containing everything reachable from the wants
// that isn't already reachable from the haves.
//
// r and w are buffered wrappers of one connection, so pkt-line framing
// and the raw packfile bytes share the same stream without stepping on
// each other's buffering.
func UploadPack(r *bufio.Reader, w *bufio.Writer, repo Repo) error {
	if err := advertiseRefs(w, repo); err != nil {
		return xerrors.Errorf("could not advertise refs: %w", err)
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("could not flush ref advertisement: %w", err)
	}

	wants, err := readHashLines(r, "want ")
	if err != nil {
		return xerrors.Errorf("could not read wants: %w", err)
	}

	haves, done, err := readHavesUntilDone(r)
	if err != nil {
		return xerrors.Errorf("could not read haves: %w", err)
	}
	if !done {
		return xerrors.Errorf("client never sent done: %w", ErrProtocolViolation)
	}

	wantSet, err := reachable(repo, wants)
	if err != nil {
		return err
	}
	haveSet, err := reachable(repo, haves)
	if err != nil {
		return err
	}
	for oid := range haveSet {
		delete(wantSet, oid)
	}

	objects, err := collectObjects(repo, wantSet)
	if err != nil {
		return err
	}

	if err := pktline.WriteFrame(w, []byte("NAK\n")); err != nil {
		return xerrors.Errorf("could not write NAK: %w", err)
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("could not flush NAK: %w", err)
	}

	if err := packfile.WritePack(w, objects); err != nil {
		return xerrors.Errorf("could not write packfile: %w", err)
	}
	return w.Flush()
}

// readHashLines reads pkt-lines of the form "<prefix><hash>[ ...]\n"
// until a flush packet, stripping capability tokens that may trail the
// first line.
func readHashLines(r *bufio.Reader, prefix string) ([]ginternals.Oid, error) {
	var out []ginternals.Oid
	for {
		_, payload, err := pktline.ReadFrame(r)
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			return out, nil
		}
		line := strings.TrimSuffix(string(payload), "\n")
		if !strings.HasPrefix(line, prefix) {
			return nil, xerrors.Errorf("expected %q line, got %q: %w", prefix, line, ErrProtocolViolation)
		}
		line = strings.TrimPrefix(line, prefix)
		// the first want/have line may carry capability tokens after
		// the hash, space-separated; they're advisory only
		hashStr := strings.SplitN(line, " ", 2)[0]
		oid, err := ginternals.NewOidFromStr(hashStr)
		if err != nil {
			return nil, xerrors.Errorf("invalid hash %q: %w", hashStr, err)
		}
		out = append(out, oid)
	}
}

// readHavesUntilDone reads "have <hash>\n" lines until either a "done\n"
// line (ending negotiation) or a flush packet with no haves at all
// (client has no common history).
func readHavesUntilDone(r *bufio.Reader) ([]ginternals.Oid, bool, error) {
	var out []ginternals.Oid
	for {
		_, payload, err := pktline.ReadFrame(r)
		if err != nil {
			return nil, false, err
		}
		if len(payload) == 0 {
			return out, false, nil
		}
		line := strings.TrimSuffix(string(payload), "\n")
		if line == "done" {
			return out, true, nil
		}
		if !strings.HasPrefix(line, "have ") {
			return nil, false, xerrors.Errorf("expected \"have\" line, got %q: %w", line, ErrProtocolViolation)
		}
		oid, err := ginternals.NewOidFromStr(strings.TrimPrefix(line, "have "))
		if err != nil {
			return nil, false, xerrors.Errorf("invalid hash %q: %w", line, err)
		}
		out = append(out, oid)
	}
}
