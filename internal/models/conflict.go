package models

type ConflictKind string

const (
	ConflictBooking     ConflictKind = "booking"
	ConflictMaintenance ConflictKind = "maintenance"
)

type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict describes one reason a castle is not free for a window.
type Conflict struct {
	Kind      ConflictKind `json:"kind"`
	BookingID int64        `json:"booking_id,omitempty"`
	Reference string       `json:"reference,omitempty"`
	Reason    string       `json:"reason"`
	Severity  Severity     `json:"severity"`
}

// Suggestion is an alternative castle free for the requested window.
type Suggestion struct {
	CastleID   int64  `json:"castle_id"`
	CastleName string `json:"castle_name"`
	Message    string `json:"message"`
}

type ConflictResult struct {
	HasConflicts bool         `json:"has_conflicts"`
	Conflicts    []Conflict   `json:"conflicts"`
	Suggestions  []Suggestion `json:"suggestions,omitempty"`
}
