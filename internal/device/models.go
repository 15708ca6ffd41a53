// Package device provides registration and presence tracking for display devices.
package device

import (
	"errors"
	"time"
)

// Repository errors.
var (
	ErrDeviceNotFound = errors.New("device not found")
)

// Service errors.
var (
	ErrInvalidStatus = errors.New("status must be online or offline")
	ErrNotAuthorized = errors.New("not authorized to access this device")
)

// Status is the presence of a device.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusOffline
}

// PlaceholderCode is the code of the bootstrap row.
const PlaceholderCode = "placeholder"

// Device is a display registered under a user-chosen code.
type Device struct {
	Code          string
	UserID        string
	UserEmail     string
	Status        Status
	RegisteredAt  time.Time
	LastSeen      time.Time
	IsPlaceholder bool
}

// Placeholder reports whether the device is a bootstrap row.
func (d *Device) Placeholder() bool {
	return d.IsPlaceholder || d.Code == PlaceholderCode
}

// Access is the record written and read back by the access probe.
type Access struct {
	UserID    string
	CheckedAt time.Time
}

// copyDevice creates a copy of a device.
func copyDevice(d *Device) *Device {
	if d == nil {
		return nil
	}
	deviceCopy := *d
	return &deviceCopy
}

// advance returns the next LastSeen for a device last seen at prev.
// LastSeen strictly increases even if the clock has not moved.
func advance(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}
