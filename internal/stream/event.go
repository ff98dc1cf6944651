package stream

import "time"

// Event types pushed over a live client stream.
const (
	EventConnectionEstablished = "connection_established"
	EventSyncProgress          = "wallet_sync_progress"
	EventSyncCompleted         = "wallet_sync_completed"
	EventSyncFailed            = "wallet_sync_failed"
	EventHeartbeat             = "heartbeat"
)

// Event is one message on a live stream, serialized as a single JSON
// object per line. Fields outside the event's shape stay empty and are
// omitted on the wire.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	WalletID   string    `json:"walletId,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Status     string    `json:"status,omitempty"`
	SyncedData []string  `json:"syncedData,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewConnectionEstablished(userID string) Event {
	return Event{
		Type:      EventConnectionEstablished,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

func NewSyncProgress(walletID string, progress int, status string) Event {
	return Event{
		Type:      EventSyncProgress,
		WalletID:  walletID,
		Progress:  progress,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

func NewSyncCompleted(walletID string, syncedData []string) Event {
	return Event{
		Type:       EventSyncCompleted,
		WalletID:   walletID,
		SyncedData: syncedData,
		Timestamp:  time.Now().UTC(),
	}
}

func NewSyncFailed(walletID string, errMsg string) Event {
	return Event{
		Type:      EventSyncFailed,
		WalletID:  walletID,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
}

func NewHeartbeat() Event {
	return Event{Type: EventHeartbeat, Timestamp: time.Now().UTC()}
}
