package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skywire-client/fileengine/internal/chunkstrategy"
	"github.com/skywire-client/fileengine/internal/protocol"
	"github.com/skywire-client/fileengine/internal/wire"
)

// fakeServer is a minimal in-process stand-in for the wire-level server
// side of the upload/download protocols, enough to exercise Engine's
// request/response plumbing without a real Multiplexer or socket.
type fakeServer struct {
	codec *protocol.CompressionCodec

	mu           sync.Mutex
	uploaded     map[int]bool
	uploadFail   map[int]int // chunk index -> remaining induced failures
	downloadData []byte
	chunkSize    int64
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		codec:      protocol.NewCompressionCodec(),
		uploaded:   make(map[int]bool),
		uploadFail: make(map[int]int),
	}
}

func (f *fakeServer) Send(ctx context.Context, cmd, format uint8, payload []byte, timeout time.Duration) (wire.Frame, error) {
	req, err := protocol.AutoDecode(f.codec, payload, format)
	if err != nil {
		return wire.Frame{}, err
	}
	resp := f.handle(protocol.Command(cmd), req)
	rf, rpayload, err := protocol.SmartEncodeResponse(f.codec, resp, protocol.EncodeHint{})
	if err != nil {
		return wire.Frame{}, err
	}
	return wire.Frame{Command: cmd, Format: rf, Payload: rpayload}, nil
}

func (f *fakeServer) handle(cmd protocol.Command, req *protocol.Request) *protocol.Response {
	switch cmd {
	case protocol.CmdUploadFile:
		return &protocol.Response{Success: true, Message: "ok"}
	case protocol.CmdUploadReq:
		f.mu.Lock()
		f.chunkSize = req.ChunkSize
		f.mu.Unlock()
		return &protocol.Response{Success: true, SessionID: req.SessionID()}
	case protocol.CmdUploadData:
		f.mu.Lock()
		idx := int(req.ChunkIndex)
		if remaining := f.uploadFail[idx]; remaining > 0 {
			f.uploadFail[idx] = remaining - 1
			f.mu.Unlock()
			return &protocol.Response{Success: false, Message: "induced failure"}
		}
		f.uploaded[idx] = true
		f.mu.Unlock()
		return &protocol.Response{Success: true}
	case protocol.CmdUploadEnd:
		return &protocol.Response{Success: true}
	case protocol.CmdDownloadReq:
		return f.handleDownload(req)
	default:
		return &protocol.Response{Success: false, Message: "unknown command"}
	}
}

func (f *fakeServer) handleDownload(req *protocol.Request) *protocol.Response {
	action := req.Options["action"]
	switch action {
	case downloadActionStart:
		f.mu.Lock()
		f.chunkSize = req.ChunkSize
		total := int64(len(f.downloadData)) / req.ChunkSize
		if int64(len(f.downloadData))%req.ChunkSize != 0 {
			total++
		}
		sid := "dl-session"
		f.mu.Unlock()
		tc := total
		return &protocol.Response{
			Success:           true,
			SessionID:         sid,
			AcceptedChunkSize: req.ChunkSize,
			TotalChunks:       &tc,
			FileSize:          int64(len(f.downloadData)),
		}
	case downloadActionChunk:
		f.mu.Lock()
		defer f.mu.Unlock()
		start := req.ChunkIndex * f.lastChunkSizeLocked()
		end := start + f.lastChunkSizeLocked()
		if end > int64(len(f.downloadData)) {
			end = int64(len(f.downloadData))
		}
		return &protocol.Response{Success: true, Data: f.downloadData[start:end]}
	case downloadActionFinish, downloadActionAbort:
		return &protocol.Response{Success: true}
	default:
		return &protocol.Response{Success: false, Message: "unknown action"}
	}
}

func (f *fakeServer) lastChunkSizeLocked() int64 { return f.chunkSize }

func newTestEngine(sender Sender) *Engine {
	return New(sender, protocol.NewCompressionCodec(), chunkstrategy.New(chunkstrategy.MinChunkSize), nil, protocol.EncodeHint{})
}

func TestUploadSmallRoundTrip(t *testing.T) {
	srv := newFakeServer()
	e := newTestEngine(srv)
	if err := e.UploadSmall(context.Background(), "/remote", "f.bin", []byte("hello world"), time.Second); err != nil {
		t.Fatalf("UploadSmall: %v", err)
	}
}

func TestUploadChunkedAllChunksDelivered(t *testing.T) {
	srv := newFakeServer()
	e := newTestEngine(srv)

	data := make([]byte, 5*1024*1024)
	for i := range data {
		data[i] = byte(i)
	}

	var events []ProgressEvent
	var mu sync.Mutex
	err := e.UploadChunked(context.Background(), UploadChunkedOptions{
		Path: "/remote", Name: "big.bin", Data: data, Persist: false,
		Progress: func(ev ProgressEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("UploadChunked: %v", err)
	}

	srv.mu.Lock()
	uploadedCount := len(srv.uploaded)
	srv.mu.Unlock()
	if uploadedCount == 0 {
		t.Fatal("expected at least one chunk to be uploaded")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || !events[len(events)-1].Final {
		t.Fatal("expected a final progress event")
	}
}

func TestUploadChunkedRetriesThenFails(t *testing.T) {
	srv := newFakeServer()
	srv.uploadFail[0] = maxChunkAttempts // always fails within the retry budget
	e := newTestEngine(srv)

	data := make([]byte, 2*1024*1024)
	err := e.UploadChunked(context.Background(), UploadChunkedOptions{
		Path: "/remote", Name: "fails.bin", Data: data,
	})
	if err == nil {
		t.Fatal("expected upload to fail after exhausting chunk retries")
	}
}

func TestDownloadChunkedAssemblesInOrder(t *testing.T) {
	srv := newFakeServer()
	srv.downloadData = make([]byte, 3*1024*1024)
	for i := range srv.downloadData {
		srv.downloadData[i] = byte(i % 251)
	}
	e := newTestEngine(srv)

	sink := NewMemorySink(256*1024, 0) // totalChunks patched after start below
	info, err := e.DownloadChunked(context.Background(), DownloadChunkedOptions{
		Path: "/remote", Name: "big.bin", ChunkSizeHint: 256 * 1024, Sink: sink,
	})
	if err != nil {
		t.Fatalf("DownloadChunked: %v", err)
	}
	sink.totalChunks = info.TotalChunks
	sink.chunkSize = info.AcceptedChunkSize

	assembled, err := sink.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(assembled) != len(srv.downloadData) {
		t.Fatalf("expected %d bytes, got %d", len(srv.downloadData), len(assembled))
	}
	for i := range assembled {
		if assembled[i] != srv.downloadData[i] {
			t.Fatalf("byte mismatch at %d", i)
		}
	}
}

func TestMemorySinkRejectsMissingChunk(t *testing.T) {
	sink := NewMemorySink(1024, 3)
	sink.WriteAt(make([]byte, 1024), 0)
	sink.WriteAt(make([]byte, 1024), 2048) // chunk 1 missing
	if _, err := sink.Assemble(); err == nil {
		t.Fatal("expected IncompleteDownload for missing chunk 1")
	}
}

func TestSizeClassChunkCapTable(t *testing.T) {
	cases := []struct {
		fileSize int64
		want     int64
	}{
		{300 * 1024 * 1024, 512 * 1024},
		{100 * 1024 * 1024, 256 * 1024},
		{20 * 1024 * 1024, 192 * 1024},
		{5 * 1024 * 1024, 160 * 1024},
		{500 * 1024, 128 * 1024},
	}
	for _, c := range cases {
		if got := sizeClassChunkCap(c.fileSize, 999999999); got != c.want {
			t.Errorf("sizeClassChunkCap(%d) = %d, want %d", c.fileSize, got, c.want)
		}
	}
	if got := sizeClassChunkCap(1024, 32*1024); got != 32*1024 {
		t.Errorf("expected small-file case to defer to adaptive, got %d", got)
	}
}
