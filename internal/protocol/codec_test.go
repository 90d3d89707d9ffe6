package protocol

import (
	"bytes"
	"testing"

	"github.com/skywire-client/fileengine/internal/wire"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := &Request{
		Operation:        OpUpload,
		Path:             "/remote/dir",
		Name:             "file.bin",
		Data:             []byte("hello world"),
		IsChunk:          true,
		ChunkIndex:       3,
		TotalChunks:      10,
		ChunkHash:        "abc123",
		ChunkSize:        1024,
		FileSize:         1 << 40, // exceeds 2^32, exercises 64-bit preservation
		Checksum:         "deadbeef",
		ClientID:         "client-1",
		Version:          "1.0.0",
		SupportedFormats: []string{"protobuf"},
		PreferredFormat:  "protobuf",
		Options:          map[string]string{"range_start": "0", "range_end": "1024"},
	}
	encoded, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	decoded, err := DecodeRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if decoded.Operation != req.Operation || decoded.Path != req.Path || decoded.Name != req.Name {
		t.Fatalf("basic fields mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Data, req.Data) {
		t.Fatalf("data mismatch: %v vs %v", decoded.Data, req.Data)
	}
	if decoded.FileSize != req.FileSize {
		t.Fatalf("file_size not preserved exactly: got %d want %d", decoded.FileSize, req.FileSize)
	}
	if decoded.ChunkIndex != req.ChunkIndex || decoded.TotalChunks != req.TotalChunks {
		t.Fatalf("chunk fields mismatch: %+v", decoded)
	}
	if decoded.Options["range_start"] != "0" || decoded.Options["range_end"] != "1024" {
		t.Fatalf("options not preserved: %+v", decoded.Options)
	}
}

func TestEncodeRequestIsChunkFalseRoundTrips(t *testing.T) {
	req := &Request{Operation: OpList, Path: "/"}
	encoded, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	decoded, err := DecodeRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if decoded.IsChunk {
		t.Fatal("expected is_chunk == false")
	}
}

func TestEncodeDecodeResponseChunkIndexPresence(t *testing.T) {
	resp := &Response{Success: true, Status: "ok", IsChunk: false}
	encoded, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	decoded, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if decoded.ChunkIndex != nil {
		t.Fatalf("expected nil chunk_index when is_chunk is false, got %v", *decoded.ChunkIndex)
	}

	idx := int64(5)
	total := int64(20)
	resp2 := &Response{Success: true, IsChunk: true, ChunkIndex: &idx, TotalChunks: &total}
	encoded2, err := EncodeResponse(resp2)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	decoded2, err := DecodeResponse(encoded2)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if decoded2.ChunkIndex == nil || *decoded2.ChunkIndex != 5 {
		t.Fatalf("expected chunk_index == 5, got %v", decoded2.ChunkIndex)
	}
	if decoded2.TotalChunks == nil || *decoded2.TotalChunks != 20 {
		t.Fatalf("expected total_chunks == 20, got %v", decoded2.TotalChunks)
	}
}

func TestEncodeDecodeResponseWithFilesAndServerInfo(t *testing.T) {
	resp := &Response{
		Success: true,
		Files: []FileInfo{
			{Name: "a.txt", Path: "/a.txt", Type: EntryFile, Size: 10},
			{Name: "dir", Path: "/dir", Type: EntryDirectory, Size: 0},
		},
		ServerInfo: &ServerInfo{Version: "2.3.1", SupportedCommands: []string{"PING", "UPLOAD_REQ"}},
	}
	encoded, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	decoded, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if len(decoded.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(decoded.Files))
	}
	if decoded.Files[1].Type != EntryDirectory {
		t.Fatalf("expected second entry to be a directory")
	}
	if decoded.ServerInfo == nil || decoded.ServerInfo.Version != "2.3.1" {
		t.Fatalf("server_info not preserved: %+v", decoded.ServerInfo)
	}
	if len(decoded.ServerInfo.SupportedCommands) != 2 {
		t.Fatalf("supported_commands not preserved: %+v", decoded.ServerInfo.SupportedCommands)
	}
}

// scenario: is_chunk == false is preserved through a full frame/parse
// round trip, not just through the bare EncodeResponse/DecodeResponse path.
func TestScenarioIsChunkFalsePreservedThroughFrameRoundTrip(t *testing.T) {
	resp := &Response{
		Success:         true,
		IsChunk:         false,
		ProgressPercent: 100,
		FileSize:        1024,
	}
	payload, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	framed, err := wire.Encode(uint8(CmdUploadFile), FormatProtobuf, payload, 1)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}
	res, err := wire.TryParse(framed)
	if err != nil || res.Outcome != wire.OutcomeFrame {
		t.Fatalf("wire.TryParse: outcome=%v err=%v", res.Outcome, err)
	}
	decoded, err := DecodeResponse(res.Frame.Payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if decoded.IsChunk {
		t.Fatal("expected is_chunk == false")
	}
	if decoded.ChunkIndex != nil {
		t.Fatalf("expected chunk_index to be absent, got %v", *decoded.ChunkIndex)
	}
	if decoded.ProgressPercent != 100 {
		t.Fatalf("expected progress_percent == 100, got %d", decoded.ProgressPercent)
	}
	if decoded.FileSize != 1024 {
		t.Fatalf("expected file_size == 1024, got %d", decoded.FileSize)
	}
}

func TestEncodeRequestRejectsInvalid(t *testing.T) {
	req := &Request{Operation: OpUpload, Path: "../../etc/passwd"}
	if _, err := EncodeRequest(req); err == nil {
		t.Fatal("expected validation error for path traversal")
	}
}
