package domain

import "time"

// ClientStatus is the lifecycle state of a retainer client.
type ClientStatus string

const (
	StatusActive   ClientStatus = "ACTIVE"
	StatusPaused   ClientStatus = "PAUSED"
	StatusArchived ClientStatus = "ARCHIVED"
)

// Valid reports whether s is one of the known statuses.
func (s ClientStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusArchived:
		return true
	}
	return false
}

// Client is a retainer: a prepaid pool of hours owned by a single
// customer. Slug is the public identifier (dashboard URL, broadcast
// room); AdminToken is the private capability that authorizes every
// mutation and is never serialized.
type Client struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Slug       string       `json:"slug"`
	AdminToken string       `json:"-"`
	TotalHours float64      `json:"totalHours"`
	RefillLink string       `json:"refillLink,omitempty"`
	Status     ClientStatus `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// WorkLog is one timestamped entry of hours consumed against a
// client's balance.
type WorkLog struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	Description string    `json:"description"`
	Hours       float64   `json:"hours"`
	LoggedAt    time.Time `json:"loggedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}
