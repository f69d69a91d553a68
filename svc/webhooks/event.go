package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event is the stored record of one inbound provider delivery. It is
// inserted before processing and updated once the handler finishes.
type Event struct {
	ID        uuid.UUID
	Provider  string
	EventType string
	EventID   string
	// Payload is the request body exactly as signed, kept for audit and
	// replay.
	Payload         []byte
	Processed       bool
	ProcessingError string
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// Done reports whether the event was processed without error. Only done
// events short-circuit redelivery.
func (e *Event) Done() bool {
	return e.Processed && e.ProcessingError == ""
}
