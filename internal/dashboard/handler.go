// Package dashboard: event handling and message formatting.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/placekeep/placekeep/internal/importer"
	"github.com/placekeep/placekeep/internal/sync"
)

// Handler subscribes to daemon events and formats them as dashboard messages.
// It bridges between the inbox daemon and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// OnImport handles inbox import completions
func (h *Handler) OnImport(stats importer.Stats, file string) {
	h.logger.Printf("Imported %s: %d new, %d duplicates", file, stats.Imported, stats.Duplicates)

	data := ImportData{
		File:       file,
		Received:   stats.Received,
		Imported:   stats.Imported,
		Duplicates: stats.Duplicates,
	}
	h.broadcastData(MessageTypeImport, data)
	h.broadcastStatus()
}

// OnDrain handles sync queue drain completions
func (h *Handler) OnDrain(stats sync.DrainStats) {
	h.logger.Printf("Drained queue: %d pushed, %d conflicts, %d failed",
		stats.Pushed, stats.Conflicts, stats.Failed)

	data := DrainData{
		Pushed:    stats.Pushed,
		Conflicts: stats.Conflicts,
		Failed:    stats.Failed,
	}
	h.broadcastData(MessageTypeDrain, data)
	h.broadcastStatus()
}

func (h *Handler) broadcastData(msgType MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", msgType, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// broadcastStatus re-reads record counts and pushes them to all clients.
func (h *Handler) broadcastStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := h.server.currentStatus(ctx)
	if err != nil {
		h.logger.Printf("Failed to read status: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
		Data:      data,
	})
}
