package packfile

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // matches the object store's hash, not used for security
	"encoding/binary"
	"errors"
	"io"

	"github.com/opengit/opengit/ginternals"
	"github.com/opengit/opengit/ginternals/object"
	"github.com/opengit/opengit/internal/zlibcodec"
	"golang.org/x/xerrors"
)

// ErrDeltaNotSupported is returned when a pack read off the wire contains
// an OFS_DELTA/REF_DELTA object. This server never advertises the
// delta/thin-pack capabilities, so a well-behaved client never sends
// one; seeing one means the client ignored the advertisement.
var ErrDeltaNotSupported = errors.New("delta objects are not supported in a streamed pack")

// ReadPack parses a full packfile read sequentially from r: header, N
// objects, 20-byte trailing checksum. Unlike NewFromFile it needs no
// side-car .idx file, which is what the wire protocol requires since a
// pack arrives as a single stream during upload-pack/receive-pack.
//
// Every object must be a full object (commit/tree/blob/tag); this server
// never advertises delta/thin-pack capabilities, so a conformant client
// never emits one.
func ReadPack(r io.Reader) ([]*object.Object, error) {
	br := bufio.NewReader(r)

	var header [packfileHeaderSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, xerrors.Errorf("could not read pack header: %w", err)
	}
	if string(header[0:4]) != "PACK" {
		return nil, xerrors.Errorf("invalid header: %w", ErrInvalidMagic)
	}
	version := binary.BigEndian.Uint32(header[4:8])
	if version != 2 {
		return nil, xerrors.Errorf("invalid header: %w", ErrInvalidVersion)
	}
	count := binary.BigEndian.Uint32(header[8:12])

	objects := make([]*object.Object, 0, count)
	for i := uint32(0); i < count; i++ {
		o, err := readStreamedObject(br)
		if err != nil {
			return nil, xerrors.Errorf("could not read object %d/%d: %w", i+1, count, err)
		}
		objects = append(objects, o)
	}

	var checksum [ginternals.OidSize]byte
	if _, err := io.ReadFull(br, checksum[:]); err != nil {
		return nil, xerrors.Errorf("could not read pack checksum: %w", err)
	}

	return objects, nil
}

func readStreamedObject(br *bufio.Reader) (*object.Object, error) {
	first, err := br.ReadByte()
	if err != nil {
		return nil, xerrors.Errorf("could not read object header: %w", err)
	}

	typ := object.Type((first >> 4) & 0b0111)
	size := uint64(first & 0b0000_1111)
	shift := uint(4)
	for first&0b1000_0000 != 0 {
		first, err = br.ReadByte()
		if err != nil {
			return nil, xerrors.Errorf("could not read object header: %w", err)
		}
		size |= uint64(first&0b0111_1111) << shift
		shift += 7
	}

	switch typ {
	case object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag:
	default:
		return nil, xerrors.Errorf("object type %d: %w", typ, ErrDeltaNotSupported)
	}

	zr, err := zlibcodec.NewReader(br)
	if err != nil {
		return nil, xerrors.Errorf("could not open zlib stream: %w", err)
	}
	defer zr.Close() //nolint:errcheck // read-only decompression

	content := make([]byte, size)
	if _, err := io.ReadFull(zr, content); err != nil {
		return nil, xerrors.Errorf("could not decompress object: %w", err)
	}

	return object.New(typ, content), nil
}

// WritePack writes objects as a version 2 packfile to w: header, every
// object as a zlib-compressed base object (no delta emitted - a base
// object pack is explicitly a conformant encoding), then the SHA-1
// checksum of everything written so far.
func WritePack(w io.Writer, objects []*object.Object) error {
	h := sha1.New() //nolint:gosec // matches the object store's hash, not used for security
	mw := io.MultiWriter(w, h)

	var header [packfileHeaderSize]byte
	copy(header[0:4], packfileMagic())
	copy(header[4:8], packfileVersion())
	binary.BigEndian.PutUint32(header[8:12], uint32(len(objects)))
	if _, err := mw.Write(header[:]); err != nil {
		return xerrors.Errorf("could not write pack header: %w", err)
	}

	for _, o := range objects {
		if err := writeStreamedObject(mw, o); err != nil {
			return err
		}
	}

	if _, err := w.Write(h.Sum(nil)); err != nil {
		return xerrors.Errorf("could not write pack checksum: %w", err)
	}
	return nil
}

func writeStreamedObject(w io.Writer, o *object.Object) error {
	size := uint64(o.Size())
	first := byte(o.Type()) << 4
	first |= byte(size & 0b0000_1111)
	size >>= 4

	if size > 0 {
		first |= 0b1000_0000
	}
	if _, err := w.Write([]byte{first}); err != nil {
		return xerrors.Errorf("could not write object header: %w", err)
	}
	for size > 0 {
		b := byte(size & 0b0111_1111)
		size >>= 7
		if size > 0 {
			b |= 0b1000_0000
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return xerrors.Errorf("could not write object header: %w", err)
		}
	}

	compressed, err := zlibcodec.Compress(o.Bytes())
	if err != nil {
		return xerrors.Errorf("could not compress object: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return xerrors.Errorf("could not write object content: %w", err)
	}
	return nil
}
