package protocol

// MessageCodec maps between the logical Request/Response values of spec §3
// and the opaque payload bytes wire.Frame carries. New traffic always uses
// the Protobuf-compatible binary encoding (format bit 0x02); JSON (bit 0x01)
// is accepted on decode only, for backward compatibility (DESIGN.md Open
// Question #2). Encoding uses google.golang.org/protobuf/encoding/protowire's
// tag/varint/length-delimited primitives directly — no .proto file or
// generated code, since the wire shape here is this engine's own, not a
// publicly shared .proto schema.

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/skywire-client/fileengine/internal/errors"
)

// Field numbers for Request.
const (
	reqFieldOperation        protowire.Number = 1
	reqFieldPath             protowire.Number = 2
	reqFieldName             protowire.Number = 3
	reqFieldNewName          protowire.Number = 4
	reqFieldData             protowire.Number = 5
	reqFieldIsChunk          protowire.Number = 6
	reqFieldChunkIndex       protowire.Number = 7
	reqFieldTotalChunks      protowire.Number = 8
	reqFieldChunkHash        protowire.Number = 9
	reqFieldChunkSize        protowire.Number = 10
	reqFieldFileSize         protowire.Number = 11
	reqFieldChecksum         protowire.Number = 12
	reqFieldClientID         protowire.Number = 13
	reqFieldVersion          protowire.Number = 14
	reqFieldSupportedFormats protowire.Number = 15
	reqFieldPreferredFormat  protowire.Number = 16
	reqFieldOptions          protowire.Number = 17
)

// Field numbers for the OptionEntry submessage (map<string,string> entry).
const (
	optEntryKey   protowire.Number = 1
	optEntryValue protowire.Number = 2
)

// Field numbers for Response.
const (
	respFieldSuccess           protowire.Number = 1
	respFieldMessage           protowire.Number = 2
	respFieldFiles             protowire.Number = 3
	respFieldData              protowire.Number = 4
	respFieldIsChunk           protowire.Number = 5
	respFieldChunkIndex        protowire.Number = 6
	respFieldTotalChunks       protowire.Number = 7
	respFieldChunkHash         protowire.Number = 8
	respFieldProcessTimeMs     protowire.Number = 9
	respFieldFileSize          protowire.Number = 10
	respFieldProgressPercent   protowire.Number = 11
	respFieldStatus            protowire.Number = 12
	respFieldSelectedFormat    protowire.Number = 13
	respFieldSupportedCommands protowire.Number = 14
	respFieldServerInfo        protowire.Number = 15
	respFieldTimestamp         protowire.Number = 16
	respFieldSessionID         protowire.Number = 17
	respFieldAcceptedChunkSize protowire.Number = 18
)

// Field numbers for FileInfo submessage.
const (
	fileFieldName         protowire.Number = 1
	fileFieldPath         protowire.Number = 2
	fileFieldType         protowire.Number = 3
	fileFieldSize         protowire.Number = 4
	fileFieldLastModified protowire.Number = 5
	fileFieldPermissions  protowire.Number = 6
	fileFieldIsReadonly   protowire.Number = 7
	fileFieldMimeType     protowire.Number = 8
)

// Field numbers for ServerInfo submessage.
const (
	serverInfoFieldVersion           protowire.Number = 1
	serverInfoFieldSupportedCommands protowire.Number = 2
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	// Always emit, even for empty/nil data, since Request/Response.Data is a
	// meaningful field (spec §8 property 3: "empty data" must round-trip).
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendVarintAlways emits a varint field even when the value is zero —
// used for booleans, which spec §4.2 requires to be "emitted even when
// false".
func appendVarintAlways(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	x := uint64(0)
	if v {
		x = 1
	}
	return appendVarintAlways(b, num, x)
}

func appendInt64Always(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintAlways(b, num, uint64(v))
}

// EncodeRequest renders r into a Protobuf-compatible payload.
func EncodeRequest(r *Request) ([]byte, error) {
	if err := ValidateRequest(r); err != nil {
		return nil, err
	}
	var b []byte
	b = appendVarint(b, reqFieldOperation, uint64(r.Operation))
	b = appendString(b, reqFieldPath, r.Path)
	b = appendString(b, reqFieldName, r.Name)
	b = appendString(b, reqFieldNewName, r.NewName)
	b = appendBytes(b, reqFieldData, r.Data)
	b = appendBool(b, reqFieldIsChunk, r.IsChunk)
	b = appendInt64Always(b, reqFieldChunkIndex, r.ChunkIndex)
	b = appendInt64Always(b, reqFieldTotalChunks, r.TotalChunks)
	b = appendString(b, reqFieldChunkHash, r.ChunkHash)
	b = appendVarint(b, reqFieldChunkSize, uint64(r.ChunkSize))
	b = appendInt64Always(b, reqFieldFileSize, r.FileSize)
	b = appendString(b, reqFieldChecksum, r.Checksum)
	b = appendString(b, reqFieldClientID, r.ClientID)
	b = appendString(b, reqFieldVersion, r.Version)
	for _, f := range r.SupportedFormats {
		b = protowire.AppendTag(b, reqFieldSupportedFormats, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(f))
	}
	b = appendString(b, reqFieldPreferredFormat, r.PreferredFormat)
	for k, v := range r.Options {
		var entry []byte
		entry = appendString(entry, optEntryKey, k)
		entry = appendString(entry, optEntryValue, v)
		b = protowire.AppendTag(b, reqFieldOptions, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

// DecodeRequest parses a Protobuf-compatible payload into a Request.
func DecodeRequest(payload []byte) (*Request, error) {
	r := &Request{}
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Schema("MessageCodec.DecodeRequest", errValue("malformed tag"))
		}
		b = b[n:]
		switch num {
		case reqFieldOperation:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.Operation = Operation(v)
		case reqFieldPath:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.Path = v
		case reqFieldName:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.Name = v
		case reqFieldNewName:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.NewName = v
		case reqFieldData:
			v, n, err := consumeBytesField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.Data = v
		case reqFieldIsChunk:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.IsChunk = v != 0
		case reqFieldChunkIndex:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.ChunkIndex = int64(v)
		case reqFieldTotalChunks:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.TotalChunks = int64(v)
		case reqFieldChunkHash:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.ChunkHash = v
		case reqFieldChunkSize:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.ChunkSize = int64(v)
		case reqFieldFileSize:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.FileSize = int64(v)
		case reqFieldChecksum:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.Checksum = v
		case reqFieldClientID:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.ClientID = v
		case reqFieldVersion:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.Version = v
		case reqFieldSupportedFormats:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.SupportedFormats = append(r.SupportedFormats, v)
		case reqFieldPreferredFormat:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			r.PreferredFormat = v
		case reqFieldOptions:
			entryBytes, n, err := consumeBytesField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			k, v, err := decodeOptionEntry(entryBytes)
			if err != nil {
				return nil, err
			}
			if r.Options == nil {
				r.Options = make(map[string]string)
			}
			r.Options[k] = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Schema("MessageCodec.DecodeRequest", errValue("malformed unknown field"))
			}
			b = b[n:]
		}
	}
	return r, nil
}

func decodeOptionEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", errors.Schema("MessageCodec.decodeOptionEntry", errValue("malformed tag"))
		}
		b = b[n:]
		switch num {
		case optEntryKey:
			v, n, e := consumeStringField(b, typ)
			if e != nil {
				return "", "", e
			}
			b = b[n:]
			key = v
		case optEntryValue:
			v, n, e := consumeStringField(b, typ)
			if e != nil {
				return "", "", e
			}
			b = b[n:]
			value = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", errors.Schema("MessageCodec.decodeOptionEntry", errValue("malformed unknown field"))
			}
			b = b[n:]
		}
	}
	return key, value, nil
}

func consumeVarintField(b []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		n := protowire.ConsumeFieldValue(0, typ, b)
		if n < 0 {
			return 0, 0, errors.Schema("MessageCodec", errValue("malformed field"))
		}
		return 0, n, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, errors.Schema("MessageCodec", errValue("malformed varint"))
	}
	return v, n, nil
}

func consumeStringField(b []byte, typ protowire.Type) (string, int, error) {
	v, n, err := consumeBytesField(b, typ)
	if err != nil {
		return "", 0, err
	}
	return string(v), n, nil
}

func consumeBytesField(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		n := protowire.ConsumeFieldValue(0, typ, b)
		if n < 0 {
			return nil, 0, errors.Schema("MessageCodec", errValue("malformed field"))
		}
		return nil, n, nil
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, errors.Schema("MessageCodec", errValue("malformed length-delimited field"))
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

// EncodeResponse renders resp into a Protobuf-compatible payload.
func EncodeResponse(resp *Response) ([]byte, error) {
	var b []byte
	b = appendBool(b, respFieldSuccess, resp.Success)
	b = appendString(b, respFieldMessage, resp.Message)
	for i := range resp.Files {
		b = protowire.AppendTag(b, respFieldFiles, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFileInfo(&resp.Files[i]))
	}
	b = appendBytes(b, respFieldData, resp.Data)
	b = appendBool(b, respFieldIsChunk, resp.IsChunk)
	if resp.ChunkIndex != nil {
		b = appendInt64Always(b, respFieldChunkIndex, *resp.ChunkIndex)
	}
	if resp.TotalChunks != nil {
		b = appendInt64Always(b, respFieldTotalChunks, *resp.TotalChunks)
	}
	b = appendString(b, respFieldChunkHash, resp.ChunkHash)
	b = appendVarint(b, respFieldProcessTimeMs, uint64(resp.ProcessTimeMs))
	b = appendInt64Always(b, respFieldFileSize, resp.FileSize)
	b = appendVarint(b, respFieldProgressPercent, uint64(resp.ProgressPercent))
	b = appendString(b, respFieldStatus, resp.Status)
	b = appendString(b, respFieldSelectedFormat, resp.SelectedFormat)
	for _, c := range resp.SupportedCommands {
		b = protowire.AppendTag(b, respFieldSupportedCommands, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(c))
	}
	if resp.ServerInfo != nil {
		b = protowire.AppendTag(b, respFieldServerInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeServerInfo(resp.ServerInfo))
	}
	b = appendVarint(b, respFieldTimestamp, uint64(resp.Timestamp))
	b = appendString(b, respFieldSessionID, resp.SessionID)
	b = appendVarint(b, respFieldAcceptedChunkSize, uint64(resp.AcceptedChunkSize))
	return b, nil
}

func encodeFileInfo(f *FileInfo) []byte {
	var b []byte
	b = appendString(b, fileFieldName, f.Name)
	b = appendString(b, fileFieldPath, f.Path)
	b = appendVarint(b, fileFieldType, uint64(f.Type))
	b = appendInt64Always(b, fileFieldSize, f.Size)
	b = appendString(b, fileFieldLastModified, f.LastModified)
	b = appendString(b, fileFieldPermissions, f.Permissions)
	b = appendBool(b, fileFieldIsReadonly, f.IsReadonly)
	b = appendString(b, fileFieldMimeType, f.MimeType)
	return b
}

func decodeFileInfo(payload []byte) (FileInfo, error) {
	var f FileInfo
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, errors.Schema("MessageCodec.decodeFileInfo", errValue("malformed tag"))
		}
		b = b[n:]
		switch num {
		case fileFieldName:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.Name = v
		case fileFieldPath:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.Path = v
		case fileFieldType:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.Type = EntryType(v)
		case fileFieldSize:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.Size = int64(v)
		case fileFieldLastModified:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.LastModified = v
		case fileFieldPermissions:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.Permissions = v
		case fileFieldIsReadonly:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.IsReadonly = v != 0
		case fileFieldMimeType:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return f, err
			}
			b = b[n:]
			f.MimeType = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, errors.Schema("MessageCodec.decodeFileInfo", errValue("malformed unknown field"))
			}
			b = b[n:]
		}
	}
	return f, nil
}

func encodeServerInfo(s *ServerInfo) []byte {
	var b []byte
	b = appendString(b, serverInfoFieldVersion, s.Version)
	for _, c := range s.SupportedCommands {
		b = protowire.AppendTag(b, serverInfoFieldSupportedCommands, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(c))
	}
	return b
}

func decodeServerInfo(payload []byte) (*ServerInfo, error) {
	s := &ServerInfo{}
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Schema("MessageCodec.decodeServerInfo", errValue("malformed tag"))
		}
		b = b[n:]
		switch num {
		case serverInfoFieldVersion:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			s.Version = v
		case serverInfoFieldSupportedCommands:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			s.SupportedCommands = append(s.SupportedCommands, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Schema("MessageCodec.decodeServerInfo", errValue("malformed unknown field"))
			}
			b = b[n:]
		}
	}
	return s, nil
}

// DecodeResponse parses a Protobuf-compatible payload into a Response.
func DecodeResponse(payload []byte) (*Response, error) {
	resp := &Response{}
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Schema("MessageCodec.DecodeResponse", errValue("malformed tag"))
		}
		b = b[n:]
		switch num {
		case respFieldSuccess:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.Success = v != 0
		case respFieldMessage:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.Message = v
		case respFieldFiles:
			raw, n, err := consumeBytesField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			fi, err := decodeFileInfo(raw)
			if err != nil {
				return nil, err
			}
			resp.Files = append(resp.Files, fi)
		case respFieldData:
			v, n, err := consumeBytesField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.Data = v
		case respFieldIsChunk:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.IsChunk = v != 0
		case respFieldChunkIndex:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			iv := int64(v)
			resp.ChunkIndex = &iv
		case respFieldTotalChunks:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			iv := int64(v)
			resp.TotalChunks = &iv
		case respFieldChunkHash:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.ChunkHash = v
		case respFieldProcessTimeMs:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.ProcessTimeMs = int64(v)
		case respFieldFileSize:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.FileSize = int64(v)
		case respFieldProgressPercent:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.ProgressPercent = int32(v)
		case respFieldStatus:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.Status = v
		case respFieldSelectedFormat:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.SelectedFormat = v
		case respFieldSupportedCommands:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.SupportedCommands = append(resp.SupportedCommands, v)
		case respFieldServerInfo:
			raw, n, err := consumeBytesField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			si, err := decodeServerInfo(raw)
			if err != nil {
				return nil, err
			}
			resp.ServerInfo = si
		case respFieldTimestamp:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.Timestamp = int64(v)
		case respFieldSessionID:
			v, n, err := consumeStringField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.SessionID = v
		case respFieldAcceptedChunkSize:
			v, n, err := consumeVarintField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			resp.AcceptedChunkSize = int64(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Schema("MessageCodec.DecodeResponse", errValue("malformed unknown field"))
			}
			b = b[n:]
		}
	}
	return resp, nil
}
