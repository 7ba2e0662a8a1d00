package transport

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/packfile"
	"github.com/opengit/opengit/pktline"
	"golang.org/x/xerrors"
)

// refUpdate is a single "<old-hash> <new-hash> <refname>" line sent by
// the client before the packfile.
type refUpdate struct {
	old, new ginternals.Oid
	ref      string
}

// ReceivePack serves the push side of the protocol, reading from r and
// writing to w: it advertises every ref, reads the client's update commands and
// packfile, applies every object, then updates each ref (rejecting
// stale old-hash values) and reports one status line per update.
func ReceivePack(r *bufio.Reader, w *bufio.Writer, repo Repo) error {
	if err := advertiseRefs(w, repo); err != nil {
		return xerrors.Errorf("could not advertise refs: %w", err)
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("could not flush ref advertisement: %w", err)
	}

	updates, err := readRefUpdates(r)
	if err != nil {
		return xerrors.Errorf("could not read ref updates: %w", err)
	}
	if len(updates) == 0 {
		// client had nothing to push: nothing else to read or report
		return nil
	}

	objects, err := packfile.ReadPack(r)
	if err != nil {
		return xerrors.Errorf("could not read packfile: %w", err)
	}
	for _, o := range objects {
		if _, err := repo.WriteObject(o); err != nil {
			return xerrors.Errorf("could not store object: %w", err)
		}
	}

	if err := pktline.WriteFrame(w, []byte("unpack ok\n")); err != nil {
		return xerrors.Errorf("could not write unpack status: %w", err)
	}

	for _, u := range updates {
		status := applyRefUpdate(repo, u)
		if err := pktline.WriteFrame(w, []byte(status)); err != nil {
			return xerrors.Errorf("could not write update status: %w", err)
		}
	}
	if err := pktline.WriteFlush(w); err != nil {
		return err
	}
	return w.Flush()
}

func applyRefUpdate(repo Repo, u refUpdate) string {
	current, err := repo.Reference(u.ref)
	var currentOid ginternals.Oid
	if err == nil {
		currentOid = current.Target()
	}

	if currentOid != u.old {
		return fmt.Sprintf("ng %s stale info\n", u.ref)
	}

	if u.new.IsZero() {
		// ref deletion isn't wired into the Repo interface (no backend
		// delete-reference method); report it explicitly rather than
		// silently no-op-ing
		return fmt.Sprintf("ng %s delete not supported\n", u.ref)
	}

	if err := repo.NewReference(u.ref, u.new); err != nil {
		return fmt.Sprintf("ng %s %s\n", u.ref, err.Error())
	}
	return fmt.Sprintf("ok %s\n", u.ref)
}

func readRefUpdates(r *bufio.Reader) ([]refUpdate, error) {
	var out []refUpdate
	for {
		_, payload, err := pktline.ReadFrame(r)
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			return out, nil
		}
		line := strings.TrimSuffix(string(payload), "\n")
		// the first line may carry a NUL-separated capability list
		line = strings.SplitN(line, "\x00", 2)[0]
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			return nil, xerrors.Errorf("malformed ref update %q: %w", line, ErrProtocolViolation)
		}
		oldOid, err := ginternals.NewOidFromStr(fields[0])
		if err != nil {
			return nil, xerrors.Errorf("invalid old hash %q: %w", fields[0], err)
		}
		newOid, err := ginternals.NewOidFromStr(fields[1])
		if err != nil {
			return nil, xerrors.Errorf("invalid new hash %q: %w", fields[1], err)
		}
		out = append(out, refUpdate{old: oldOid, new: newOid, ref: fields[2]})
	}
}
