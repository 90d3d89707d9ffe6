package protocol

// Command enumerates the wire command byte (spec §3).
type Command uint8

const (
	CmdPing Command = iota + 1
	CmdPong
	CmdConnect
	CmdDisconnect
	CmdListFiles
	CmdFileInfo
	CmdCreateDir
	CmdDeleteFile
	CmdRenameFile
	CmdUploadFile
	CmdDownloadFile
	CmdUploadReq
	CmdUploadData
	CmdUploadEnd
	CmdDownloadReq
	CmdDownloadData
	CmdDownloadEnd
)

func (c Command) String() string {
	switch c {
	case CmdPing:
		return "PING"
	case CmdPong:
		return "PONG"
	case CmdConnect:
		return "CONNECT"
	case CmdDisconnect:
		return "DISCONNECT"
	case CmdListFiles:
		return "LIST_FILES"
	case CmdFileInfo:
		return "FILE_INFO"
	case CmdCreateDir:
		return "CREATE_DIR"
	case CmdDeleteFile:
		return "DELETE_FILE"
	case CmdRenameFile:
		return "RENAME_FILE"
	case CmdUploadFile:
		return "UPLOAD_FILE"
	case CmdDownloadFile:
		return "DOWNLOAD_FILE"
	case CmdUploadReq:
		return "UPLOAD_REQ"
	case CmdUploadData:
		return "UPLOAD_DATA"
	case CmdUploadEnd:
		return "UPLOAD_END"
	case CmdDownloadReq:
		return "DOWNLOAD_REQ"
	case CmdDownloadData:
		return "DOWNLOAD_DATA"
	case CmdDownloadEnd:
		return "DOWNLOAD_END"
	default:
		return "UNKNOWN"
	}
}

// KnownCommand reports whether cmd is one of the enumerated commands.
func KnownCommand(cmd uint8) bool {
	return cmd >= uint8(CmdPing) && cmd <= uint8(CmdDownloadEnd)
}

// Format byte bits (spec §3).
const (
	FormatJSON            uint8 = 0x01 // legacy, accepted on decode, never produced
	FormatProtobuf        uint8 = 0x02
	FormatCompressed      uint8 = 0x04
	FormatAlgoMask        uint8 = 0x30
	FormatAlgoGzip        uint8 = 0x10
	FormatAlgoDeflate     uint8 = 0x20
	FormatAlgoBrotli      uint8 = 0x30
	FormatAlgoUnspecified uint8 = 0x00
)

// Algorithm identifies a compression algorithm (spec §3, §4.3).
type Algorithm uint8

const (
	AlgoUnspecified Algorithm = iota
	AlgoGzip
	AlgoDeflate
	AlgoBrotli
)

func (a Algorithm) String() string {
	switch a {
	case AlgoGzip:
		return "gzip"
	case AlgoDeflate:
		return "deflate"
	case AlgoBrotli:
		return "brotli"
	default:
		return "unspecified"
	}
}

// AlgoFromFormatBits maps the format byte's bits 4-5 to an Algorithm.
func AlgoFromFormatBits(format uint8) Algorithm {
	switch format & FormatAlgoMask {
	case FormatAlgoGzip:
		return AlgoGzip
	case FormatAlgoDeflate:
		return AlgoDeflate
	case FormatAlgoBrotli:
		return AlgoBrotli
	default:
		return AlgoUnspecified
	}
}

// FormatBitsFromAlgo maps an Algorithm back to format byte bits 4-5.
func FormatBitsFromAlgo(a Algorithm) uint8 {
	switch a {
	case AlgoGzip:
		return FormatAlgoGzip
	case AlgoDeflate:
		return FormatAlgoDeflate
	case AlgoBrotli:
		return FormatAlgoBrotli
	default:
		return FormatAlgoUnspecified
	}
}

// Operation enumerates the logical request operation. It is distinct from
// Command: every UPLOAD_DATA frame carries Operation == OpUpload, for
// instance, regardless of which wire command framed it.
type Operation uint8

const (
	OpUnknown Operation = iota
	OpList
	OpStat
	OpCreateDir
	OpDelete
	OpRename
	OpUpload
	OpDownload
	OpConnect
	OpDisconnect
	OpPing
)

var operationNames = map[Operation]string{
	OpList:       "list",
	OpStat:       "stat",
	OpCreateDir:  "create_dir",
	OpDelete:     "delete",
	OpRename:     "rename",
	OpUpload:     "upload",
	OpDownload:   "download",
	OpConnect:    "connect",
	OpDisconnect: "disconnect",
	OpPing:       "ping",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

// KnownOperation reports whether o is a recognised, non-zero enum value.
func KnownOperation(o Operation) bool {
	_, ok := operationNames[o]
	return ok
}
