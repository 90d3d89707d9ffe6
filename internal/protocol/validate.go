package protocol

import (
	"strings"

	"github.com/skywire-client/fileengine/internal/errors"
)

// ValidateRequest enforces spec §4.2's pre-encode checks: known enum values,
// no ".." path segments, non-negative file_size, valid chunk indices, and —
// for a chunk upload — either legacy (chunk_index + total_chunks) or
// byte-range (options.range_start/range_end) addressing.
func ValidateRequest(r *Request) error {
	if !KnownOperation(r.Operation) {
		return errors.Schema("MessageCodec.ValidateRequest", errValue("unknown operation"))
	}
	if containsDotDot(r.Path) {
		return errors.Schema("MessageCodec.ValidateRequest", errValue("path contains .. segment"))
	}
	if r.FileSize < 0 {
		return errors.Schema("MessageCodec.ValidateRequest", errValue("file_size must be non-negative"))
	}
	if r.IsChunk {
		if r.ChunkIndex < 0 {
			return errors.Schema("MessageCodec.ValidateRequest", errValue("chunk_index must be non-negative"))
		}
		if r.TotalChunks > 0 && r.ChunkIndex >= r.TotalChunks {
			return errors.Schema("MessageCodec.ValidateRequest", errValue("chunk_index must be < total_chunks"))
		}
		_, _, hasRange := r.HasByteRange()
		hasLegacy := r.TotalChunks > 0
		if !hasRange && !hasLegacy {
			return errors.Schema("MessageCodec.ValidateRequest",
				errValue("chunk upload requires chunk_index+total_chunks or options.range_start/range_end"))
		}
	}
	return nil
}

func containsDotDot(path string) bool {
	for _, seg := range strings.Split(strings.ReplaceAll(path, "\\", "/"), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
