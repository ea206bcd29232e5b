package hub

import "go-retainer-tracker/internal/domain"

// OutboundEvent is the single event name pushed to joined viewers.
const OutboundEvent = "retainer-update"

// JoinRoomEvent and LeaveRoomEvent are the inbound event names a
// viewer sends to subscribe to and drop a client's room. Any other
// inbound event name is logged and otherwise ignored.
const (
	JoinRoomEvent  = "join-room"
	LeaveRoomEvent = "leave-room"
)

// EventType tags the kind of mutation an update event describes.
type EventType string

const (
	EventAddLog         EventType = "ADD_LOG"
	EventDeleteLog      EventType = "DELETE_LOG"
	EventRefill         EventType = "REFILL"
	EventDetailsUpdate  EventType = "DETAILS_UPDATE"
	EventStatusUpdate   EventType = "STATUS_UPDATE"
	EventProjectDeleted EventType = "PROJECT_DELETED"
)

// Event is the ephemeral message fanned out to every connection in a
// room. Data holds exactly one of the payload types below, keyed by
// Type, so client decoders can match exhaustively.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// LogAddedPayload accompanies EventAddLog.
type LogAddedPayload struct {
	Log            domain.WorkLog `json:"log"`
	HoursRemaining float64        `json:"hoursRemaining"`
}

// LogDeletedPayload accompanies EventDeleteLog.
type LogDeletedPayload struct {
	LogID string `json:"logId"`
}

// RefillPayload accompanies EventRefill.
type RefillPayload struct {
	TotalHours float64 `json:"totalHours"`
}

// DetailsPayload accompanies EventDetailsUpdate.
type DetailsPayload struct {
	Name       string  `json:"name"`
	TotalHours float64 `json:"totalHours"`
	RefillLink string  `json:"refillLink,omitempty"`
}

// StatusPayload accompanies EventStatusUpdate.
type StatusPayload struct {
	Status domain.ClientStatus `json:"status"`
}

func NewLogAdded(log domain.WorkLog, hoursRemaining float64) *Event {
	return &Event{Type: EventAddLog, Data: LogAddedPayload{Log: log, HoursRemaining: hoursRemaining}}
}

func NewLogDeleted(logID string) *Event {
	return &Event{Type: EventDeleteLog, Data: LogDeletedPayload{LogID: logID}}
}

func NewRefill(totalHours float64) *Event {
	return &Event{Type: EventRefill, Data: RefillPayload{TotalHours: totalHours}}
}

func NewDetailsUpdate(client domain.Client) *Event {
	return &Event{Type: EventDetailsUpdate, Data: DetailsPayload{
		Name:       client.Name,
		TotalHours: client.TotalHours,
		RefillLink: client.RefillLink,
	}}
}

func NewStatusUpdate(status domain.ClientStatus) *Event {
	return &Event{Type: EventStatusUpdate, Data: StatusPayload{Status: status}}
}

// NewProjectDeleted carries no payload; the room itself is about to
// become meaningless.
func NewProjectDeleted() *Event {
	return &Event{Type: EventProjectDeleted}
}
