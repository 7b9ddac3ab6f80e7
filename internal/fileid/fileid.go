// Package fileid provides deterministic identifiers for documents and chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const prefix = "doc:"

// namespace scopes chunk UUIDs so they never collide with other v5 UUIDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/hyperjump/kotae/chunk"))

// DocumentID returns the stable id reported for an ingested document. Documents are
// keyed by base name, so the directory part of filename is ignored.
func DocumentID(filename string) string {
	hash := sha256.Sum256([]byte(filepath.Base(filepath.Clean(filename))))
	return prefix + hex.EncodeToString(hash[:16])
}

// ChunkKey is the natural key of a chunk: filename and ordinal.
func ChunkKey(filename string, index int) string {
	return filename + "#" + strconv.Itoa(index)
}

// ParseChunkKey splits a key built by ChunkKey. The filename may itself contain '#'.
func ParseChunkKey(key string) (filename string, index int, ok bool) {
	i := strings.LastIndexByte(key, '#')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, false
	}
	return key[:i], n, true
}

// ChunkUUID returns a name-based (v5) UUID for a chunk, for stores that require UUID ids.
// Re-ingesting the same filename produces the same ids, so writes replace rather than duplicate.
func ChunkUUID(filename string, index int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(ChunkKey(filename, index)))
}

// NewTextFilename returns a generated name for raw text submitted without one.
func NewTextFilename(base string) string {
	return base + "-" + uuid.New().String()[:8]
}
