package protocol

import (
	"path/filepath"
	"strings"

	"github.com/skywire-client/fileengine/internal/errors"
)

// EntryType distinguishes a file from a directory in a FileInfo (spec §3).
type EntryType uint8

const (
	EntryFile EntryType = iota
	EntryDirectory
)

func (t EntryType) String() string {
	if t == EntryDirectory {
		return "directory"
	}
	return "file"
}

// FileInfo describes one remote directory entry (spec §3).
type FileInfo struct {
	Name         string
	Path         string
	Type         EntryType
	Size         int64
	LastModified string // ISO-8601 or epoch, as the server sends it
	Permissions  string
	IsReadonly   bool
	MimeType     string
}

// Validate checks the invariants spec §3 places on FileInfo: size must be
// non-negative.
func (f *FileInfo) Validate() error {
	if f.Size < 0 {
		return errors.Schema("FileInfo.Validate", errValue("size cannot be negative"))
	}
	return nil
}

// compressibleExts mirrors the teacher's extension table
// (internal/server/cache.go isCompressible / internal/protocol/metadata.go
// Metadata.IsCompressible), generalized into the CompressionCodec's
// size-based heuristic fallback (spec §4.3).
var compressibleExts = map[string]bool{
	".txt": true, ".json": true, ".xml": true, ".html": true, ".htm": true,
	".css": true, ".js": true, ".csv": true, ".log": true,
	".md": true, ".yaml": true, ".yml": true, ".svg": true, ".toml": true,
	".sql": true, ".sh": true, ".bat": true, ".ps1": true,
}

// IsCompressibleName reports whether filename's extension is typically
// compressible text content.
func IsCompressibleName(filename string) bool {
	return compressibleExts[strings.ToLower(filepath.Ext(filename))]
}

// errValue is a tiny helper so this file doesn't need to import both
// "errors" and this package's own errors package under the same name.
type errValue string

func (e errValue) Error() string { return string(e) }
