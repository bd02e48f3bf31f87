package vfs

import (
	"encoding/hex"
	"io"
	"maps"
	"slices"

	"github.com/zeebo/blake3"
)

// Digest identifies a snapshot by content. Equal file sets hash equal
// regardless of map order.
func Digest(files map[string]string) string {
	h := blake3.New()
	for _, path := range slices.Sorted(maps.Keys(files)) {
		io.WriteString(h, path)
		h.Write([]byte{0})
		io.WriteString(h, files[path])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
