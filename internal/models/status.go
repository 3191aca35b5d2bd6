package models

import (
	"fmt"
	"strings"
)

var legacyStatuses = map[string]BookingStatus{
	"complete":  StatusCompleted,
	"done":      StatusCompleted,
	"cancelled": StatusExpired,
	"canceled":  StatusExpired,
	"new":       StatusPending,
}

// NormalizeStatus maps a stored status, including legacy spellings, onto the closed enum.
// It is applied once when rows are read so that nothing downstream sees legacy values.
func NormalizeStatus(raw string) (BookingStatus, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if st := BookingStatus(s); st.IsValid() {
		return st, nil
	}
	if st, ok := legacyStatuses[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown booking status %q", raw)
}

// ParseStatus accepts only canonical spellings. Used for caller input.
func ParseStatus(raw string) (BookingStatus, error) {
	st := BookingStatus(strings.TrimSpace(raw))
	if !st.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", raw)
	}
	return st, nil
}
