// Package uploadstore implements ResumableUploadStore (spec §4.9):
// per-session client-side bookkeeping persisted to a per-user directory,
// with single-writer serialized writes, atomic replace, and a 24-hour expiry
// reaped by an hourly cleanup loop.
//
// Session lookup and single-writer discipline are grounded on the teacher's
// internal/server/session.go (getOrCreateSession/cleanupSession/
// cleanupStaleSessions, sync.Map + LoadOrStore for race-free creation),
// adapted from server-side in-memory bookkeeping to client-side persisted
// bookkeeping.
package uploadstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/chunkstrategy"
	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/logging"
	"github.com/skywire-client/fileengine/internal/metrics"
)

// DefaultExpiry is how long an idle session record is retained before
// cleanup_expired reaps it.
const DefaultExpiry = 24 * time.Hour

const sessionFileExt = ".session"

// Record is one persisted upload session (spec §4.9).
type Record struct {
	SessionID      string       `json:"session_id"`
	Filename       string       `json:"filename"`
	Target         string       `json:"target"`
	FileHash       string       `json:"file_hash"`
	FileSize       int64        `json:"file_size"`
	ChunkSize      int64        `json:"chunk_size"`
	TotalChunks    int          `json:"total_chunks"`
	UploadedChunks map[int]bool `json:"uploaded_chunks"`
	CreatedAt      time.Time    `json:"created_at"`
	LastUpdatedAt  time.Time    `json:"last_updated_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	Completed      bool         `json:"completed"`
	Ephemeral      bool         `json:"-"`
}

func (r *Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// writeTask is one unit of the single-writer persistence queue.
type writeTask struct {
	sessionID string
	record    *Record // nil means "delete"
}

// Store is a ResumableUploadStore rooted at dir.
type Store struct {
	dir string
	log *zap.Logger

	mu      sync.Mutex
	records map[string]*Record

	writeCh chan writeTask
	closeCh chan struct{}
}

// New constructs a Store persisting session files under dir (created if
// absent). Starts the single-writer persistence goroutine.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Session("ResumableUploadStore.New", err)
	}
	s := &Store{
		dir:     dir,
		log:     logging.GetLogger(),
		records: make(map[string]*Record),
		writeCh: make(chan writeTask, 256),
		closeCh: make(chan struct{}),
	}
	s.loadExisting()
	go s.writerLoop()
	return s, nil
}

// Close stops the persistence goroutine. Pending queued writes are
// flushed before return.
func (s *Store) Close() {
	close(s.writeCh)
	<-s.closeCh
}

func (s *Store) writerLoop() {
	defer close(s.closeCh)
	for task := range s.writeCh {
		if task.record == nil {
			s.deleteFile(task.sessionID)
			continue
		}
		if err := s.writeFile(task.record); err != nil {
			s.log.Warn("failed to persist upload session", zap.String("session_id", task.sessionID), zap.Error(err))
		}
	}
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, sanitizeSessionID(sessionID)+sessionFileExt)
}

// writeFile performs the atomic write-temp-then-rename described in spec
// §6: the whole record is marshalled and written once, so a reader never
// observes torn state.
func (s *Store) writeFile(r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	path := s.sessionPath(r.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) deleteFile(sessionID string) {
	_ = os.Remove(s.sessionPath(sessionID))
}

// loadExisting reads every *.session file at startup, tolerating
// partial/corrupt files by deleting them (spec §4.9).
func (s *Store) loadExisting() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sessionFileExt) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			_ = os.Remove(path)
			continue
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			s.log.Warn("discarding corrupt session file", zap.String("path", path))
			_ = os.Remove(path)
			continue
		}
		if r.expired(now) {
			_ = os.Remove(path)
			continue
		}
		if r.UploadedChunks == nil {
			r.UploadedChunks = make(map[int]bool)
		}
		s.records[r.SessionID] = &r
	}
}

func (s *Store) enqueueWrite(r *Record) {
	select {
	case s.writeCh <- writeTask{sessionID: r.SessionID, record: r}:
	default:
		// Queue saturated: drop silently, matching the teacher's
		// best-effort persistence posture — the in-memory record remains
		// authoritative until the next successful write.
	}
}

func (s *Store) enqueueDelete(sessionID string) {
	select {
	case s.writeCh <- writeTask{sessionID: sessionID, record: nil}:
	default:
	}
}

// CreateOrResume implements spec §4.9's create_or_resume. If persist is
// false, an ephemeral, never-written session is returned. Otherwise a
// content-addressed session_id is derived from payload's SHA-256 and a hit
// is reused only when (file_hash, file_size, chunk_size) all match and the
// record hasn't expired and chunk_size doesn't exceed chunkstrategy.MaxChunkSize.
func (s *Store) CreateOrResume(filename, target string, payload []byte, chunkSize int64, persist bool) (*Record, error) {
	now := time.Now()

	if !persist {
		return &Record{
			SessionID:      uuid.NewString(),
			Filename:       filename,
			Target:         target,
			FileSize:       int64(len(payload)),
			ChunkSize:      chunkSize,
			UploadedChunks: make(map[int]bool),
			CreatedAt:      now,
			LastUpdatedAt:  now,
			ExpiresAt:      now.Add(DefaultExpiry),
			Ephemeral:      true,
		}, nil
	}

	hash := truncatedSHA256(payload)
	sessionID := hash + "_" + filename

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[sessionID]
	if ok {
		compatible := !existing.expired(now) &&
			existing.FileHash == hash &&
			existing.FileSize == int64(len(payload)) &&
			existing.ChunkSize == chunkSize &&
			existing.ChunkSize <= chunkstrategy.MaxChunkSize
		if compatible {
			existing.LastUpdatedAt = now
			existing.ExpiresAt = now.Add(DefaultExpiry)
			s.enqueueWrite(existing)
			metrics.RecordCacheHit()
			s.recordSizeLocked()
			return existing, nil
		}
		delete(s.records, sessionID)
		s.enqueueDelete(sessionID)
	}

	r := &Record{
		SessionID:      sessionID,
		Filename:       filename,
		Target:         target,
		FileHash:       hash,
		FileSize:       int64(len(payload)),
		ChunkSize:      chunkSize,
		UploadedChunks: make(map[int]bool),
		CreatedAt:      now,
		LastUpdatedAt:  now,
		ExpiresAt:      now.Add(DefaultExpiry),
	}
	s.records[sessionID] = r
	s.enqueueWrite(r)
	metrics.RecordCacheMiss()
	s.recordSizeLocked()
	return r, nil
}

// recordSizeLocked updates the persisted-session-bytes gauge. Caller holds
// s.mu.
func (s *Store) recordSizeLocked() {
	var total int64
	for _, r := range s.records {
		total += r.FileSize
	}
	metrics.SetCacheSize(total)
}

// SetTotalChunks records the upload plan's chunk count once it's known
// (the session is created before total_chunks is computed in some call
// orders).
func (s *Store) SetTotalChunks(sessionID string, totalChunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[sessionID]; ok {
		r.TotalChunks = totalChunks
	}
}

// MarkChunkUploaded inserts chunkIndex into the session's uploaded set.
// Idempotent: re-marking an already-uploaded chunk is a no-op that does
// not enqueue a redundant write, satisfying spec §8's "exactly one write
// per chunk ack" property at the store layer (the multiplexer/at-most-once
// guard at the transfer layer is the primary enforcement point).
func (s *Store) MarkChunkUploaded(sessionID string, chunkIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[sessionID]
	if !ok {
		return errors.Session("ResumableUploadStore.MarkChunkUploaded", errValue("unknown session: "+sessionID))
	}
	if r.Completed {
		return errors.Session("ResumableUploadStore.MarkChunkUploaded", errValue("session already completed"))
	}
	if r.UploadedChunks[chunkIndex] {
		return nil
	}
	r.UploadedChunks[chunkIndex] = true
	now := time.Now()
	r.LastUpdatedAt = now
	r.ExpiresAt = now.Add(DefaultExpiry)
	s.enqueueWrite(r)
	return nil
}

// GetPendingChunks returns the sorted complement of the uploaded set
// within [0, total_chunks).
func (s *Store) GetPendingChunks(sessionID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[sessionID]
	if !ok {
		return nil, errors.Session("ResumableUploadStore.GetPendingChunks", errValue("unknown session: "+sessionID))
	}
	pending := make([]int, 0, r.TotalChunks)
	for i := 0; i < r.TotalChunks; i++ {
		if !r.UploadedChunks[i] {
			pending = append(pending, i)
		}
	}
	return pending, nil
}

// GetNextChunk returns the smallest pending chunk index, if any.
func (s *Store) GetNextChunk(sessionID string) (int, bool, error) {
	pending, err := s.GetPendingChunks(sessionID)
	if err != nil {
		return 0, false, err
	}
	if len(pending) == 0 {
		return 0, false, nil
	}
	sort.Ints(pending)
	return pending[0], true, nil
}

// IsComplete reports whether every chunk in [0, total_chunks) has been
// acknowledged.
func (s *Store) IsComplete(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[sessionID]
	if !ok {
		return false, errors.Session("ResumableUploadStore.IsComplete", errValue("unknown session: "+sessionID))
	}
	return len(r.UploadedChunks) >= r.TotalChunks, nil
}

// Complete removes the session record and its persisted file.
func (s *Store) Complete(sessionID string) error {
	s.mu.Lock()
	r, ok := s.records[sessionID]
	if ok {
		r.Completed = true
		delete(s.records, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return errors.Session("ResumableUploadStore.Complete", errValue("unknown session: "+sessionID))
	}
	s.enqueueDelete(sessionID)
	return nil
}

// CleanupExpired removes every record whose expires_at has passed.
// Intended to be driven by an hourly timer (spec §4.9).
func (s *Store) CleanupExpired() {
	now := time.Now()
	s.mu.Lock()
	var expired []string
	for id, r := range s.records {
		if r.expired(now) {
			expired = append(expired, id)
			delete(s.records, id)
		}
	}
	s.mu.Unlock()
	for _, id := range expired {
		s.enqueueDelete(id)
	}
	if len(expired) > 0 {
		s.log.Info("reaped expired upload sessions", zap.Int("count", len(expired)))
	}
}

// RunCleanupLoop starts an hourly CleanupExpired loop; call in a goroutine.
func (s *Store) RunCleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.CleanupExpired()
		}
	}
}

func truncatedSHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// sanitizeSessionID strips path separators and traversal sequences from a
// session_id before it is used as a filename component, mirroring the
// teacher's sanitizeFilename discipline (internal/server/sanitize.go).
func sanitizeSessionID(sessionID string) string {
	clean := strings.ReplaceAll(sessionID, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	clean = strings.ReplaceAll(clean, "..", "_")
	clean = strings.ReplaceAll(clean, "\x00", "")
	if len(clean) > 200 {
		clean = clean[:200]
	}
	if clean == "" {
		clean = fmt.Sprintf("session_%d", time.Now().UnixNano())
	}
	return clean
}

type errValue string

func (e errValue) Error() string { return string(e) }
