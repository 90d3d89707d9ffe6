package progress

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/logging"
	"github.com/skywire-client/fileengine/internal/metrics"
	"github.com/skywire-client/fileengine/internal/transfer"
)

const (
	UpdateInterval = 100 * time.Millisecond
	ReadBufferSize  = 1024
	WriteBufferSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  ReadBufferSize,
	WriteBufferSize: WriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // local progress endpoint; the embedding host controls exposure
	},
}

// ServeHTTP upgrades the request to a websocket and streams batched progress
// updates for every transfer published to the bus since the last tick, in
// the same {"type":"progress","transfers":[...],"timestamp":...} shape the
// teacher's handler used.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.GetLogger().Error("progress websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.WebSocketConnected()
	defer metrics.WebSocketDisconnected()

	id, sub := b.subscribe()
	defer b.unsubscribe(id)

	ticker := time.NewTicker(UpdateInterval)
	defer ticker.Stop()

	batch := make(map[string]transfer.ProgressEvent)
	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			batch[ev.TransferID] = ev
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
			transfers := make([]transfer.ProgressEvent, 0, len(batch))
			for _, ev := range batch {
				transfers = append(transfers, ev)
			}
			metrics.RecordProgressMessage()
			if err := conn.WriteJSON(map[string]interface{}{
				"type":      "progress",
				"transfers": transfers,
				"timestamp": time.Now().Unix(),
			}); err != nil {
				return
			}
			for _, ev := range transfers {
				if ev.Final {
					metrics.RecordCompleteMessage()
				}
			}
			batch = make(map[string]transfer.ProgressEvent)
		case <-r.Context().Done():
			return
		}
	}
}
