package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"defitrack/internal/stream"
)

var jsonw = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamHandler upgrades a GET request into the user's live NDJSON event
// stream and registers it with the connection manager.
type StreamHandler struct {
	manager *stream.ConnectionManager
	logger  zerolog.Logger
}

func NewStreamHandler(manager *stream.ConnectionManager, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{manager: manager, logger: logger}
}

// Stream holds the request open and pushes one JSON object per line. The
// connection manager owns the lifecycle from registration on; this
// handler only blocks until either side hangs up.
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		userID = c.Query("userId")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	var walletIDs []string
	if raw := c.Query("walletIds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				walletIDs = append(walletIDs, p)
			}
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	transport := newNDJSONTransport(c.Writer, flusher)
	if !h.manager.AddConnection(userID, transport, walletIDs) {
		return
	}

	select {
	case <-c.Request.Context().Done():
		// Client went away; drop this registration, but never a newer one
		// the same user may have opened in the meantime.
		h.manager.RemoveIf(userID, transport)
	case <-transport.done:
		// Evicted or replaced by the manager.
	}
}

// ndjsonTransport writes events to a flushed HTTP response, one JSON
// object per line.
type ndjsonTransport struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

func newNDJSONTransport(w http.ResponseWriter, flusher http.Flusher) *ndjsonTransport {
	return &ndjsonTransport{w: w, flusher: flusher, done: make(chan struct{})}
}

func (t *ndjsonTransport) Send(event stream.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return http.ErrHandlerTimeout
	}

	data, err := jsonw.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *ndjsonTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}
