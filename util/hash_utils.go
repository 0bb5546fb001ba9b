package util

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// HashCode hashes a key.
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// HashUint64 hashes a 64-bit key, used for partitioning page ids.
func HashUint64(key uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return xxhash.Checksum64(buf[:])
}
