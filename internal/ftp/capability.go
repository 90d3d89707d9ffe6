package ftp

import "strings"

// Capabilities records which optional FTP features a server advertised in
// its FEAT reply (spec §4.13's capability probe).
type Capabilities struct {
	MLSD bool // rich, machine-parseable listing
	REST bool // resume support
	MODEZ bool // MODE Z (deflate) transfer compression
}

// ParseFeatLines parses the body lines of a FEAT response (each typically
// indented by one space, per RFC 2389) into Capabilities. Unknown features
// are ignored.
func ParseFeatLines(lines []string) Capabilities {
	var caps Capabilities
	for _, line := range lines {
		feat := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case feat == "MLSD" || strings.HasPrefix(feat, "MLSD "):
			caps.MLSD = true
		case feat == "MLST" || strings.HasPrefix(feat, "MLST "):
			caps.MLSD = true
		case feat == "REST STREAM" || feat == "REST":
			caps.REST = true
		case strings.HasPrefix(feat, "MODE Z") || feat == "MODE Z":
			caps.MODEZ = true
		}
	}
	return caps
}
