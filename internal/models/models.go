package models

import "time"

// Everyone addresses a message to the whole room.
const Everyone = "everyone"

type Kind string

const (
	KindBroadcast Kind = "broadcast_message"
	KindPrivate   Kind = "private_message"
	KindStatus    Kind = "status"
)

// UserSubmittable reports whether a participant may post or edit a message of this kind.
// Status messages are reserved for join and departure notices.
func (k Kind) UserSubmittable() bool {
	return k == KindBroadcast || k == KindPrivate
}

type Participant struct {
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type Message struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Kind Kind   `json:"type"`
	Time string `json:"time"`
}

// VisibleTo reports whether viewer may see the message.
func (m Message) VisibleTo(viewer string) bool {
	return m.To == Everyone || m.To == viewer || m.From == viewer
}

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Event describes a change to the message log, pushed to live feed subscribers.
type Event struct {
	Action  Action  `json:"action"`
	Message Message `json:"message"`
}
