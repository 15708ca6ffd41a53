package models

import (
	"github.com/castboard/castboard/internal/device"
)

// Device is a registered display.
type Device struct {
	Code         string    `json:"code"`
	UserID       string    `json:"userId"`
	UserEmail    string    `json:"userEmail,omitempty"`
	Status       string    `json:"status"`
	RegisteredAt Timestamp `json:"registeredAt"`
	LastSeen     Timestamp `json:"lastSeen"`
}

// DeviceFrom converts a domain device.
func DeviceFrom(d *device.Device) Device {
	return Device{
		Code:         d.Code,
		UserID:       d.UserID,
		UserEmail:    d.UserEmail,
		Status:       string(d.Status),
		RegisteredAt: Timestamp(d.RegisteredAt),
		LastSeen:     Timestamp(d.LastSeen),
	}
}

// ToDevice converts back to the domain type.
func (d Device) ToDevice() *device.Device {
	return &device.Device{
		Code:         d.Code,
		UserID:       d.UserID,
		UserEmail:    d.UserEmail,
		Status:       device.Status(d.Status),
		RegisteredAt: d.RegisteredAt.Time(),
		LastSeen:     d.LastSeen.Time(),
	}
}

// RegisterDeviceRequest is the request body for registering a device.
type RegisterDeviceRequest struct {
	Code string `json:"code"`
}

// Registration is the tagged outcome of a registration attempt. It is
// returned with 200 on success and with an error status otherwise.
type Registration struct {
	Success     bool    `json:"success"`
	IsNew       bool    `json:"isNew"`
	Message     string  `json:"message"`
	IsOffline   bool    `json:"isOffline,omitempty"`
	IsRuleIssue bool    `json:"isRuleIssue,omitempty"`
	IsAuthError bool    `json:"isAuthError,omitempty"`
	Device      *Device `json:"device,omitempty"`
}

// RegistrationFrom converts a registration result.
func RegistrationFrom(r device.RegistrationResult) Registration {
	out := Registration{
		Success:     r.Success,
		IsNew:       r.IsNew,
		Message:     r.Message,
		IsOffline:   r.IsOffline,
		IsRuleIssue: r.IsRuleIssue,
		IsAuthError: r.IsAuthError,
	}
	if r.Device != nil {
		d := DeviceFrom(r.Device)
		out.Device = &d
	}
	return out
}

// ToResult converts back to the domain type.
func (r Registration) ToResult() device.RegistrationResult {
	out := device.RegistrationResult{
		Success:     r.Success,
		IsNew:       r.IsNew,
		Message:     r.Message,
		IsOffline:   r.IsOffline,
		IsRuleIssue: r.IsRuleIssue,
		IsAuthError: r.IsAuthError,
	}
	if r.Device != nil {
		out.Device = r.Device.ToDevice()
	}
	return out
}

// DeviceStatusRequest is the request body for a presence change.
type DeviceStatusRequest struct {
	Status string `json:"status"`
}

// DeviceList is the list of a user's devices.
type DeviceList struct {
	Items []Device `json:"items"`
}

// AccessProbe is the result of the access diagnostic.
type AccessProbe struct {
	UserID    string    `json:"userId"`
	CheckedAt Timestamp `json:"checkedAt"`
}
