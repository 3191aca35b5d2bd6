package models

import "time"

type Castle struct {
	ID          int64   `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name" validate:"required,max=100"`
	Theme       string  `json:"theme,omitempty" yaml:"theme"`
	Size        string  `json:"size,omitempty" yaml:"size"`
	Price       float64 `json:"price" yaml:"price" validate:"gte=0"`
	Description string  `json:"description,omitempty" yaml:"description"`
	ImageRef    string  `json:"image_ref,omitempty" yaml:"image_ref"`

	MaintenanceStatus MaintenanceStatus `json:"maintenance_status" yaml:"maintenance_status" validate:"omitempty,oneof=available maintenance out_of_service"`
	MaintenanceNotes  string            `json:"maintenance_notes,omitempty" yaml:"maintenance_notes"`
	MaintenanceStart  *time.Time        `json:"maintenance_start,omitempty" yaml:"maintenance_start"`
	MaintenanceEnd    *time.Time        `json:"maintenance_end,omitempty" yaml:"maintenance_end"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// MaintenanceWindow returns the window the castle is unavailable in and whether it blocks at all.
// Missing bounds are treated as open-ended.
func (c *Castle) MaintenanceWindow() (Window, bool) {
	switch c.MaintenanceStatus {
	case MaintenanceOutOfService:
		return Window{Start: time.Time{}, End: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}, true
	case MaintenanceInProgress:
		w := Window{Start: time.Time{}, End: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}
		if c.MaintenanceStart != nil {
			w.Start = *c.MaintenanceStart
		}
		if c.MaintenanceEnd != nil {
			w.End = *c.MaintenanceEnd
		}
		return w, true
	default:
		return Window{}, false
	}
}

// MaintenanceUpdate changes the maintenance sub-state of a castle.
type MaintenanceUpdate struct {
	Status MaintenanceStatus `json:"status"`
	Notes  string            `json:"notes"`
	Start  *time.Time        `json:"start,omitempty"`
	End    *time.Time        `json:"end,omitempty"`
}
