package protocol

// ServerInfo is returned by the server on CONNECT (spec §3 Response.server_info).
type ServerInfo struct {
	Version           string
	SupportedCommands []string
}

// SupportedFormats is what this engine advertises in a CONNECT request's
// supported_formats field. Only Protobuf is ever produced (spec §4.2); JSON
// is accepted on decode for backward compatibility only (DESIGN.md Open
// Question #2).
var SupportedFormats = []string{"protobuf"}

// NegotiateFormat validates the server's selected_format against what this
// client advertised. Supplemented from original_source/: the extension host
// asserts the server's chosen format is one it actually offered.
func NegotiateFormat(selected string) error {
	for _, f := range SupportedFormats {
		if f == selected {
			return nil
		}
	}
	return errValue("server selected unsupported format: " + selected)
}
