package transfer

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skywire-client/fileengine/internal/chunkstrategy"
	"github.com/skywire-client/fileengine/internal/protocol"
	"github.com/skywire-client/fileengine/internal/uploadstore"
)

// These scenarios are adapted from a suite of concrete end-to-end cases with
// literal byte sequences and chunk counts; MIN_CHUNK is fixed at 16 KiB in
// this engine (chunkstrategy.MinChunkSize) rather than the 4096-byte example
// value, so payload sizes below are scaled up accordingly while preserving
// each scenario's actual property under test.

// scenario 1: small upload round-trip followed by whole-file download
// yields a byte-equal buffer.
func TestScenarioSmallUploadThenDownloadRoundTrip(t *testing.T) {
	payload := []byte("hello-stream-e2e-" + strings.Repeat("x", 10000))

	srv := newFakeServer()
	e := newTestEngine(srv)

	if err := e.UploadSmall(context.Background(), "/remote", "hello.bin", payload, 5*time.Second); err != nil {
		t.Fatalf("UploadSmall: %v", err)
	}

	srv.downloadData = payload
	sink := NewMemorySink(256*1024, 0)
	info, err := e.DownloadChunked(context.Background(), DownloadChunkedOptions{
		Path: "/remote", Name: "hello.bin", ChunkSizeHint: 256 * 1024, Sink: sink,
	})
	if err != nil {
		t.Fatalf("DownloadChunked: %v", err)
	}
	sink.totalChunks = info.TotalChunks
	sink.chunkSize = info.AcceptedChunkSize

	got, err := sink.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-tripped buffer not byte-equal to original (%d vs %d bytes)", len(got), len(payload))
	}
}

// scenario 2: concurrent chunk workers finish in whatever order they are
// scheduled (the test does not force one); the server's uploaded set is
// still complete once sorted, and the file is reconstructed byte-equal.
func TestScenarioConcurrentUploadAcksReconstructInOrder(t *testing.T) {
	const chunkSize = int64(16 * 1024) // MIN_CHUNK
	const numChunks = 4
	data := make([]byte, chunkSize*numChunks)
	for i := range data {
		data[i] = byte(i % 256)
	}

	srv := newFakeServer()
	e := newTestEngine(srv)

	var events []ProgressEvent
	var mu sync.Mutex
	err := e.UploadChunked(context.Background(), UploadChunkedOptions{
		Path: "/remote", Name: "outoforder.bin", Data: data,
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
	uploaded := make([]int, 0, len(srv.uploaded))
	for idx := range srv.uploaded {
		uploaded = append(uploaded, idx)
	}
	srv.mu.Unlock()
	sort.Ints(uploaded)

	want := make([]int, numChunks)
	for i := range want {
		want[i] = i
	}
	if len(uploaded) != numChunks {
		t.Fatalf("expected all %d chunks uploaded, got %v", numChunks, uploaded)
	}
	for i, idx := range uploaded {
		if idx != want[i] {
			t.Fatalf("uploaded set not the expected sorted complement: got %v, want %v", uploaded, want)
		}
	}

	srv.downloadData = data
	sink := NewMemorySink(chunkSize, 0)
	info, err := e.DownloadChunked(context.Background(), DownloadChunkedOptions{
		Path: "/remote", Name: "outoforder.bin", ChunkSizeHint: chunkSize, Sink: sink,
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
	if !bytes.Equal(assembled, data) {
		t.Fatal("server-side reconstruction not byte-equal to the original upload")
	}
}

// scenario 3: an upload interrupted partway through resumes against the
// same persisted session and completes with a byte-equal reconstruction,
// rather than restarting the chunk set from zero.
func TestScenarioResumeAfterInterruptionCompletesAndMatches(t *testing.T) {
	dir := t.TempDir()
	store, err := uploadstore.New(dir)
	if err != nil {
		t.Fatalf("uploadstore.New: %v", err)
	}
	defer store.Close()

	const chunkSize = int64(16 * 1024)
	data := make([]byte, chunkSize*5)
	for i := range data {
		data[i] = byte((i * 3) % 256)
	}

	srv := newFakeServer()
	engine1 := New(srv, protocol.NewCompressionCodec(), chunkstrategy.New(chunkstrategy.MinChunkSize), store, protocol.EncodeHint{})

	sessionID, err := engine1.createOrResumeSession(UploadChunkedOptions{
		Name: "resume.bin", Target: "/remote", Data: data, Persist: true,
	}, chunkSize, 5)
	if err != nil {
		t.Fatalf("createOrResumeSession: %v", err)
	}
	store.SetTotalChunks(sessionID, 5)

	// Upload chunks 0 and 1 directly, simulating the portion completed
	// before the connection drops.
	for _, idx := range []int{0, 1} {
		if _, err := engine1.uploadOneChunk(context.Background(), UploadChunkedOptions{
			Name: "resume.bin", Data: data,
		}, sessionID, idx, chunkSize, int64(len(data)), 5); err != nil {
			t.Fatalf("uploadOneChunk(%d): %v", idx, err)
		}
		if err := store.MarkChunkUploaded(sessionID, idx); err != nil {
			t.Fatalf("MarkChunkUploaded(%d): %v", idx, err)
		}
	}

	pending, err := store.GetPendingChunks(sessionID)
	if err != nil {
		t.Fatalf("GetPendingChunks: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 chunks still pending after simulated disconnect, got %v", pending)
	}

	// "Reconnect": a fresh engine sharing the same persisted store resumes
	// the session and uploads the remaining chunks.
	engine2 := New(srv, protocol.NewCompressionCodec(), chunkstrategy.New(chunkstrategy.MinChunkSize), store, protocol.EncodeHint{})
	for _, idx := range pending {
		if _, err := engine2.uploadOneChunk(context.Background(), UploadChunkedOptions{
			Name: "resume.bin", Data: data,
		}, sessionID, idx, chunkSize, int64(len(data)), 5); err != nil {
			t.Fatalf("uploadOneChunk(%d) after resume: %v", idx, err)
		}
		if err := store.MarkChunkUploaded(sessionID, idx); err != nil {
			t.Fatalf("MarkChunkUploaded(%d) after resume: %v", idx, err)
		}
	}

	complete, err := store.IsComplete(sessionID)
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if !complete {
		t.Fatal("expected session complete after uploading all chunks across the simulated reconnect")
	}

	if _, err := engine2.sendRequest(context.Background(), uint8(protocol.CmdUploadEnd), &protocol.Request{
		Operation:   protocol.OpUpload,
		TotalChunks: 5,
		FileSize:    int64(len(data)),
		Options:     protocol.WithSessionID(nil, sessionID),
	}, 30*time.Second); err != nil {
		t.Fatalf("UPLOAD_END: %v", err)
	}

	srv.downloadData = data
	sink := NewMemorySink(chunkSize, 0)
	info, err := engine2.DownloadChunked(context.Background(), DownloadChunkedOptions{
		Path: "/remote", Name: "resume.bin", ChunkSizeHint: chunkSize, Sink: sink,
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
	if !bytes.Equal(assembled, data) {
		t.Fatal("post-resume download not byte-equal to the original upload")
	}
}
