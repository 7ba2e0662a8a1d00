package ginternals

import "github.com/opengit/opengit/internal/githash"

// Oid is a git object ID. The on-disk format mandates SHA-1, so there is
// a single concrete representation shared by the object store, the
// packfile codec and the wire protocol.
type Oid = githash.Oid

// OidSize is the length, in bytes, of a raw Oid.
const OidSize = githash.OidSize

// NullOid is the zero-value Oid, used to mean "no object" (an unborn
// branch, or a create/delete ref update over the wire).
var NullOid = githash.NullOid

// NewOidFromStr parses a 40-character hex string into an Oid.
func NewOidFromStr(s string) (Oid, error) {
	return githash.NewFromHex(s)
}

// NewOidFromContent computes the Oid of an object's canonical serialized
// form ("<kind> <len>\0<payload>").
func NewOidFromContent(data []byte) Oid {
	return githash.Sum(data)
}

// NewOidFromChars parses the raw bytes of a hex-encoded oid, as found in a
// loose reference file or a packed-refs line.
func NewOidFromChars(data []byte) (Oid, error) {
	return githash.NewFromHex(string(data))
}

// NewOidFromBytes casts a 20-byte slice into an Oid.
func NewOidFromBytes(raw []byte) (Oid, error) {
	return githash.NewFromBytes(raw)
}
