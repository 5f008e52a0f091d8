package model

import (
	"strings"
	"time"
)

// DeviceClass identifies the platform family a subscription was created on.
type DeviceClass string

const (
	DeviceIOS     DeviceClass = "ios"
	DeviceAndroid DeviceClass = "android"
	DeviceWeb     DeviceClass = "web"
)

// ParseDeviceClass normalises user input, falling back to web.
func ParseDeviceClass(raw string) DeviceClass {
	switch DeviceClass(strings.ToLower(strings.TrimSpace(raw))) {
	case DeviceIOS:
		return DeviceIOS
	case DeviceAndroid:
		return DeviceAndroid
	default:
		return DeviceWeb
	}
}

// ChannelKeys are the client public key and auth secret of a push channel.
type ChannelKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Channel is the opaque descriptor a browser hands out from pushManager.subscribe().
type Channel struct {
	Endpoint       string      `json:"endpoint"`
	ExpirationTime *int64      `json:"expirationTime,omitempty"`
	Keys           ChannelKeys `json:"keys"`
}

// Subscription links one subscriber to one push channel.
type Subscription struct {
	SubscriberID string      `json:"student_id"`
	DeviceClass  DeviceClass `json:"device_type"`
	Channel      Channel     `json:"subscription"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// SubscriptionView hides channel secrets when returning subscriptions to admins.
type SubscriptionView struct {
	StudentID       string      `json:"student_id"`
	DeviceClass     DeviceClass `json:"device_type"`
	HasSubscription bool        `json:"has_subscription"`
	Endpoint        string      `json:"endpoint,omitempty"`
	EndpointType    string      `json:"endpoint_type,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
