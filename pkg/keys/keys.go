// Package keys defines the tagged-integer identifiers shared across the
// sync core: table/column/object keys, snapshot version ids, and the
// salted identifiers used to detect replication history spoofing.
package keys

import (
	"encoding/binary"
	"fmt"
)

// TableKey identifies a table within a database snapshot.
type TableKey struct {
	value uint64
}

// NullTableKey is the reserved "no table" value.
var NullTableKey = TableKey{value: ^uint64(0)}

// NewTableKey wraps a raw value as a TableKey.
func NewTableKey(v uint64) TableKey { return TableKey{value: v} }

// Value returns the raw 64-bit value.
func (k TableKey) Value() uint64 { return k.value }

// IsNull reports whether k is the reserved null table key.
func (k TableKey) IsNull() bool { return k == NullTableKey }

func (k TableKey) String() string {
	if k.IsNull() {
		return "TableKey(null)"
	}
	return fmt.Sprintf("TableKey(%d)", k.value)
}

// GobEncode/GobDecode give TableKey a stable on-the-wire gob encoding
// despite its field being unexported — gob otherwise silently drops
// unexported struct fields, which would zero every table reference
// persisted through translog.Instruction (boltengine's committed log).
func (k TableKey) GobEncode() ([]byte, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k.value)
	return buf[:], nil
}

func (k *TableKey) GobDecode(data []byte) error {
	if len(data) != 8 {
		return fmt.Errorf("keys: invalid TableKey gob encoding (%d bytes)", len(data))
	}
	k.value = binary.BigEndian.Uint64(data)
	return nil
}

// ColKey packs {index:16, type:6, attrs:8, tag:32} into a 64-bit value, per
// original_source/src/realm/keys.hpp.
type ColKey struct {
	value uint64
}

const (
	colKeyIndexBits = 16
	colKeyTypeBits  = 6
	colKeyAttrBits  = 8
	colKeyTagBits   = 32

	colKeyIndexShift = 0
	colKeyTypeShift  = colKeyIndexShift + colKeyIndexBits
	colKeyAttrShift  = colKeyTypeShift + colKeyTypeBits
	colKeyTagShift   = colKeyAttrShift + colKeyAttrBits

	colKeyIndexMask = (uint64(1) << colKeyIndexBits) - 1
	colKeyTypeMask  = (uint64(1) << colKeyTypeBits) - 1
	colKeyAttrMask  = (uint64(1) << colKeyAttrBits) - 1
	colKeyTagMask   = (uint64(1) << colKeyTagBits) - 1
)

// NullColKey is the reserved "no column" value.
var NullColKey = ColKey{value: ^uint64(0)}

// ColKeyParts is the decoded form of a ColKey.
type ColKeyParts struct {
	Index uint16
	Type  uint8
	Attrs uint8
	Tag   uint32
}

// NewColKey packs the given parts into a ColKey.
func NewColKey(p ColKeyParts) ColKey {
	v := (uint64(p.Index) & colKeyIndexMask) << colKeyIndexShift
	v |= (uint64(p.Type) & colKeyTypeMask) << colKeyTypeShift
	v |= (uint64(p.Attrs) & colKeyAttrMask) << colKeyAttrShift
	v |= (uint64(p.Tag) & colKeyTagMask) << colKeyTagShift
	return ColKey{value: v}
}

// RawColKey wraps an already-packed raw value (e.g. read off the wire).
func RawColKey(v uint64) ColKey { return ColKey{value: v} }

// Value returns the raw packed value.
func (k ColKey) Value() uint64 { return k.value }

// IsNull reports whether k is the reserved null column key.
func (k ColKey) IsNull() bool { return k == NullColKey }

// Parts unpacks k into its constituent fields.
func (k ColKey) Parts() ColKeyParts {
	return ColKeyParts{
		Index: uint16((k.value >> colKeyIndexShift) & colKeyIndexMask),
		Type:  uint8((k.value >> colKeyTypeShift) & colKeyTypeMask),
		Attrs: uint8((k.value >> colKeyAttrShift) & colKeyAttrMask),
		Tag:   uint32((k.value >> colKeyTagShift) & colKeyTagMask),
	}
}

func (k ColKey) String() string {
	if k.IsNull() {
		return "ColKey(null)"
	}
	p := k.Parts()
	return fmt.Sprintf("ColKey(idx=%d,type=%d,attrs=%d,tag=%d)", p.Index, p.Type, p.Attrs, p.Tag)
}

// GobEncode/GobDecode mirror TableKey's: ColKey's packed value is also
// unexported, so it needs an explicit gob encoding to survive a round trip
// through a committed translog.Instruction.
func (k ColKey) GobEncode() ([]byte, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k.value)
	return buf[:], nil
}

func (k *ColKey) GobDecode(data []byte) error {
	if len(data) != 8 {
		return fmt.Errorf("keys: invalid ColKey gob encoding (%d bytes)", len(data))
	}
	k.value = binary.BigEndian.Uint64(data)
	return nil
}

// ObjKey identifies an object (row) within a table. The null value is -1;
// bit 62 marks an unresolved (pending) link target.
type ObjKey int64

// NullObjKey is the reserved "no object" value.
const NullObjKey ObjKey = -1

const unresolvedBit = int64(1) << 62

// IsNull reports whether k is the null object key.
func (k ObjKey) IsNull() bool { return k == NullObjKey }

// IsUnresolved reports whether k carries the pending-link marker bit.
func (k ObjKey) IsUnresolved() bool { return !k.IsNull() && int64(k)&unresolvedBit != 0 }

// AsUnresolved returns k with the unresolved marker bit set.
func (k ObjKey) AsUnresolved() ObjKey {
	if k.IsNull() {
		return k
	}
	return ObjKey(int64(k) | unresolvedBit)
}

// Resolved returns k with the unresolved marker bit cleared.
func (k ObjKey) Resolved() ObjKey {
	return ObjKey(int64(k) &^ unresolvedBit)
}

func (k ObjKey) String() string {
	if k.IsNull() {
		return "ObjKey(null)"
	}
	return fmt.Sprintf("ObjKey(%d)", int64(k))
}

// VersionID identifies an MVCC snapshot: a monotonic version number plus the
// reader-slot the storage engine pinned it to.
type VersionID struct {
	Version    uint64
	ReaderSlot uint32
}

// IsZero reports whether v is the zero VersionID (used as "no version yet").
func (v VersionID) IsZero() bool { return v == VersionID{} }

func (v VersionID) String() string {
	return fmt.Sprintf("VersionID(version=%d,slot=%d)", v.Version, v.ReaderSlot)
}

// Compare returns -1, 0, or 1 comparing v.Version to o.Version.
func (v VersionID) Compare(o VersionID) int {
	switch {
	case v.Version < o.Version:
		return -1
	case v.Version > o.Version:
		return 1
	default:
		return 0
	}
}

// SaltedFileIdent is a server-assigned client identity paired with an
// anti-spoofing salt.
type SaltedFileIdent struct {
	FileIdent uint64
	Salt      int64
}

// IsZero reports whether the identity has not yet been assigned by a server.
func (s SaltedFileIdent) IsZero() bool { return s.FileIdent == 0 }

// SaltedVersion is a server snapshot version paired with an anti-divergence
// salt.
type SaltedVersion struct {
	ServerVersion uint64
	Salt          int64
}

// DownloadCursor is the client's position in the server's changeset history.
type DownloadCursor struct {
	ServerVersion              uint64
	LastIntegratedClientVersion uint64
}

// UploadCursor is the client's position in its own local changeset history.
type UploadCursor struct {
	ClientVersion              uint64
	LastIntegratedServerVersion uint64
}

// SyncProgress bundles the two cursors with the latest known server version.
type SyncProgress struct {
	LatestServerVersion SaltedVersion
	Download            DownloadCursor
	Upload               UploadCursor
}
