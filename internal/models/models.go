package models

import "time"

type Office struct {
	OfficeID string `json:"office_id"`
	Name     string `json:"name"`
	Code     string `json:"code,omitempty"`
	Active   bool   `json:"active"`
}

type Window struct {
	WindowID string `json:"window_id"`
	OfficeID string `json:"office_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

type PriorityType struct {
	PriorityID string `json:"priority_id"`
	Label      string `json:"label"`
	Active     bool   `json:"active"`
}

type StatusType struct {
	StatusID string `json:"status_id"`
	Label    string `json:"label"`
}

// Sequence is one customer's queue position. The priority and status labels
// are denormalized onto the row because both ordering and the lifecycle guard
// classify free-text labels, not fixed ids.
type Sequence struct {
	SequenceID   string     `json:"sequence_id"`
	OfficeID     string     `json:"office_id"`
	OfficeName   string     `json:"office_name,omitempty"`
	TicketCodeID string     `json:"ticket_code_id"`
	TicketCode   string     `json:"ticket_code"`
	PriorityID   string     `json:"priority_id"`
	Priority     string     `json:"priority"`
	StatusID     string     `json:"status_id"`
	Status       string     `json:"status"`
	WindowID     *string    `json:"window_id,omitempty"`
	WindowName   *string    `json:"window_name,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	ArrivedAt    *time.Time `json:"arrived_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type Notification struct {
	NotificationID string    `json:"notification_id"`
	SequenceID     string    `json:"sequence_id"`
	TicketCodeID   string    `json:"ticket_code_id"`
	OfficeID       string    `json:"office_id"`
	OfficeName     string    `json:"office_name"`
	TicketCode     string    `json:"ticket_code"`
	Priority       string    `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}
