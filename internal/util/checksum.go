package util

import (
	"encoding/binary"
	"hash/crc32"

	entityerrors "github.com/devrev/entitydb/internal/errors"
)

// Checksums guard entity records, commit log lines and continuation tokens.
// CRC32 with the Castagnoli polynomial, stored big-endian after the payload.

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// ChecksumSize is the length of the trailer appended by Seal.
const ChecksumSize = 4

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// Seal appends a 4-byte checksum to the data.
// Format: [data][checksum (4 bytes)]
func Seal(data []byte) []byte {
	out := make([]byte, len(data)+ChecksumSize)
	copy(out, data)
	binary.BigEndian.PutUint32(out[len(data):], ComputeChecksum(data))
	return out
}

// Unseal validates the trailer and returns the payload without it.
// The returned slice aliases sealed.
func Unseal(sealed []byte) ([]byte, error) {
	if len(sealed) < ChecksumSize {
		return nil, entityerrors.CorruptedData("sealed payload shorter than checksum", nil).
			WithDetail("length", len(sealed))
	}

	n := len(sealed) - ChecksumSize
	data := sealed[:n]
	expected := binary.BigEndian.Uint32(sealed[n:])
	if actual := ComputeChecksum(data); actual != expected {
		return nil, entityerrors.ChecksumFailed(expected, actual)
	}
	return data, nil
}
