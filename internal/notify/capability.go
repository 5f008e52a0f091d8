package notify

import (
	"errors"

	"github.com/schoolbus-labs/busreserve/internal/model"
)

var (
	// ErrUnsupported means the platform has no notification API at all.
	ErrUnsupported = errors.New("notifications are not supported on this platform")
	// ErrNeedsInstall means iOS only delivers web notifications to apps added to the home screen.
	ErrNeedsInstall = errors.New("add this app to the home screen to enable notifications")
	// ErrPermissionDenied is terminal: the user refused and must change it in settings.
	ErrPermissionDenied = errors.New("notification permission denied")
)

// Environment describes what the current session can do.
type Environment struct {
	DeviceClass     model.DeviceClass
	Standalone      bool
	NotificationAPI bool
	ServiceWorker   bool
	PushManager     bool
}

// Kind enumerates capability levels.
type Kind int

const (
	Unsupported Kind = iota
	ForegroundOnly
	FullBackground
)

func (k Kind) String() string {
	switch k {
	case FullBackground:
		return "full_background"
	case ForegroundOnly:
		return "foreground_only"
	default:
		return "unsupported"
	}
}

// Capability is resolved once per session. Reason is set only for Unsupported.
type Capability struct {
	Kind   Kind
	Reason error
}

// Resolve classifies an environment.
func Resolve(env Environment) Capability {
	if env.DeviceClass == model.DeviceIOS && !env.Standalone {
		return Capability{Kind: Unsupported, Reason: ErrNeedsInstall}
	}
	if !env.NotificationAPI {
		return Capability{Kind: Unsupported, Reason: ErrUnsupported}
	}
	if !env.ServiceWorker || !env.PushManager {
		return Capability{Kind: ForegroundOnly}
	}
	return Capability{Kind: FullBackground}
}

// CanPresent reports whether alerts can be shown at all.
func (c Capability) CanPresent() bool {
	return c.Kind != Unsupported
}

// CanSubscribe reports whether background push registration is possible.
func (c Capability) CanSubscribe() bool {
	return c.Kind == FullBackground
}
