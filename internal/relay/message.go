package relay

import (
	"github.com/ternarybob/mapgen/internal/models"
)

// Message types pushed to monitoring clients
const (
	TypeSocketID = "socketID"
	TypeStatus   = "status"
	TypeError    = "error"
)

// Final contents of the status and error events
const (
	ContentComplete = "COMPLETE"
	ContentError    = "ERROR"
)

// Message is one event on a monitoring connection
type Message struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content"`
}

// SocketIDMessage announces the channel id assigned to a new connection
func SocketIDMessage(id string) Message {
	return Message{Type: TypeSocketID, Content: id}
}

// StatusMessage converts a job status update to the event the client expects
func StatusMessage(u models.StatusUpdate) Message {
	switch u.Stage {
	case models.StageComplete:
		return Message{Type: TypeStatus, Content: ContentComplete}
	case models.StageFailed:
		return Message{Type: TypeError, Content: ContentError}
	default:
		return Message{Type: TypeStatus, Content: u.Status}
	}
}
