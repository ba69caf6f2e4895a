// Package metablock implements the on-disk metablock ring: a small
// rotating log of fixed-size, CRC-protected records that anchors the
// "head of the world" pointer for a log-structured storage file.
package metablock

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Debug-only textual markers. Present only when Layout.DebugMagic is set;
// they exist purely so a hex dump of the ring is self-describing, and do
// not participate in CRC validation.
const (
	magicText         = "metablock\x00"
	crcMarkerText     = "crc:\x00"
	versionMarkerText = "version:\x00"
)

const (
	crcFieldSize     = 4 // uint32 LE
	versionFieldSize = 8 // uint64 LE

	// versionMarkerSize intentionally reuses len(crcMarkerText) rather than
	// len(versionMarkerText): the source this ring is modeled on sized the
	// version marker field to match the crc marker's length, and spec.md
	// §6 calls this out explicitly as a detail to preserve rather than
	// silently "fix". Only the first versionMarkerSize bytes of
	// versionMarkerText are ever written.
	versionMarkerSize = len(crcMarkerText)
)

var (
	// ErrCRCMismatch is returned by Validate (and surfaced during
	// recovery scanning) when a record's stored CRC does not match its
	// payload. This is expected at unpopulated or torn slots and is not
	// itself a fatal condition.
	ErrCRCMismatch = errors.New("metablock: crc mismatch")

	errPayloadSizeMismatch = errors.New("metablock: payload size does not match layout")
	errBufferTooSmall      = errors.New("metablock: buffer too small for layout")
)

// Layout describes the on-disk shape of a CRCMetablock record. Two
// deployments using different DebugMagic settings produce incompatible
// byte layouts; a single ring must commit to one.
type Layout struct {
	PayloadSize int
	DebugMagic  bool
}

// RecordSize returns sizeof(CRCMetablock) for this layout: the number of
// bytes a single ring slot occupies.
func (l Layout) RecordSize() int {
	size := crcFieldSize + versionFieldSize + l.PayloadSize
	if l.DebugMagic {
		size += len(magicText) + len(crcMarkerText) + versionMarkerSize
	}
	return size
}

// CRCMetablock is the fixed-size on-disk record. CRC is computed over
// Payload only, deliberately excluding Version (see spec.md §9): an
// undetected bit flip in Version could misorder recovery, but byte
// compatibility with this exclusion is preserved here rather than
// silently changed.
type CRCMetablock struct {
	CRC     uint32
	Version uint64
	Payload []byte
}

// New builds a record for a given payload and version, computing its CRC.
// The caller's payload bytes are copied in; New never aliases the input.
func New(layout Layout, version uint64, payload []byte) (CRCMetablock, error) {
	if len(payload) != layout.PayloadSize {
		return CRCMetablock{}, errPayloadSizeMismatch
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)

	return CRCMetablock{
		CRC:     crc32.ChecksumIEEE(owned),
		Version: version,
		Payload: owned,
	}, nil
}

// Valid reports whether the record's CRC matches its payload.
func (m CRCMetablock) Valid() bool {
	return m.CRC == crc32.ChecksumIEEE(m.Payload)
}

// Validate is Valid expressed as an error, for call sites that want the
// %w-wrappable sentinel.
func (m CRCMetablock) Validate() error {
	if !m.Valid() {
		return ErrCRCMismatch
	}
	return nil
}

// Encode serializes m into dst according to layout. dst must be at least
// layout.RecordSize() bytes; Encode writes exactly that many.
func Encode(layout Layout, m CRCMetablock, dst []byte) error {
	if len(dst) < layout.RecordSize() {
		return errBufferTooSmall
	}
	if len(m.Payload) != layout.PayloadSize {
		return errPayloadSizeMismatch
	}

	offset := 0
	if layout.DebugMagic {
		copy(dst[offset:], magicText)
		offset += len(magicText)
		copy(dst[offset:], crcMarkerText)
		offset += len(crcMarkerText)
	}

	binary.LittleEndian.PutUint32(dst[offset:], m.CRC)
	offset += crcFieldSize

	if layout.DebugMagic {
		copy(dst[offset:], versionMarkerText[:versionMarkerSize])
		offset += versionMarkerSize
	}

	binary.LittleEndian.PutUint64(dst[offset:], m.Version)
	offset += versionFieldSize

	copy(dst[offset:], m.Payload)

	return nil
}

// Decode parses a CRCMetablock out of src according to layout. src must
// be at least layout.RecordSize() bytes. Decode does not validate the
// CRC; call Validate/Valid on the result to do that.
func Decode(layout Layout, src []byte) (CRCMetablock, error) {
	if len(src) < layout.RecordSize() {
		return CRCMetablock{}, errBufferTooSmall
	}

	offset := 0
	if layout.DebugMagic {
		offset += len(magicText) + len(crcMarkerText)
	}

	crc := binary.LittleEndian.Uint32(src[offset:])
	offset += crcFieldSize

	if layout.DebugMagic {
		offset += versionMarkerSize
	}

	version := binary.LittleEndian.Uint64(src[offset:])
	offset += versionFieldSize

	payload := make([]byte, layout.PayloadSize)
	copy(payload, src[offset:offset+layout.PayloadSize])

	return CRCMetablock{CRC: crc, Version: version, Payload: payload}, nil
}
