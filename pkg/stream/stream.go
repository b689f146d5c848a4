// Package stream pushes process snapshots to websocket clients.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Clients further behind than this are disconnected.
	sendBuffer = 64
)

// Message is one frame sent to the client.
type Message struct {
	Type     string           `json:"type"` // "snapshot" or "error"
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Code     string           `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type Handler struct {
	processes *services.Processes
	logger    *slog.Logger
}

func NewHandler(processes *services.Processes, logger *slog.Logger) *Handler {
	return &Handler{
		processes: processes,
		logger:    logger.With("module", "stream"),
	}
}

// Mux returns a mux serving GET /processes/{id}/stream.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /processes/{id}/stream", h.ServeProcess)

	return mux
}

// ServeProcess sends the current snapshot followed by one snapshot per
// accepted change, in version order.
func (h *Handler) ServeProcess(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("id")

	if _, err := h.processes.Snapshot(r.Context(), processID); err != nil {
		status := http.StatusInternalServerError
		if services.IsNotFoundError(err) {
			status = http.StatusNotFound
		}

		http.Error(w, err.Error(), status)

		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "process_id", processID, "error", err)

		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan models.Snapshot, sendBuffer)
	overflow := make(chan struct{})

	// The callback runs under the process lock and must never block.
	unsubscribe, err := h.processes.Subscribe(ctx, processID, func(snapshot models.Snapshot) {
		select {
		case updates <- snapshot:
		default:
			select {
			case <-overflow:
			default:
				close(overflow)
			}
		}
	})
	if err != nil {
		h.writeError(conn, err)

		return
	}
	defer unsubscribe()

	// Subscribed first, so nothing between this read and the first change is lost.
	current, err := h.processes.Snapshot(ctx, processID)
	if err != nil {
		h.writeError(conn, err)

		return
	}

	go h.readPump(conn, cancel)

	h.logger.Debug("Stream opened", "process_id", processID)
	h.writePump(ctx, conn, current, updates, overflow)
	h.logger.Debug("Stream closed", "process_id", processID)
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, current models.Snapshot, updates <-chan models.Snapshot, overflow <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := write(conn, Message{Type: "snapshot", Snapshot: &current}); err != nil {
		return
	}

	last := current.Version

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))

			return
		case <-overflow:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client too slow"), time.Now().Add(writeWait))

			return
		case snapshot := <-updates:
			// Changes already included in the initial snapshot are skipped.
			if snapshot.Version <= last {
				continue
			}

			if err := write(conn, Message{Type: "snapshot", Snapshot: &snapshot}); err != nil {
				return
			}

			last = snapshot.Version
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and cancels ctx once the client goes away.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.logger.Debug("Stream read failed", "error", err)
			}

			return
		}
	}
}

func (h *Handler) writeError(conn *websocket.Conn, err error) {
	code := "internal"
	if services.IsNotFoundError(err) {
		code = "not_found"
	}

	if writeErr := write(conn, Message{Type: "error", Code: code, Message: err.Error()}); writeErr != nil {
		h.logger.Debug("Failed to send stream error", "error", writeErr)
	}
}

func write(conn *websocket.Conn, msg Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return conn.WriteJSON(msg)
}
