package notify

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/schoolbus-labs/busreserve/internal/model"
)

// DefaultTag groups alerts that arrive without one.
const DefaultTag = "bus-notification"

// Display renders one alert on the device.
type Display interface {
	Show(event model.NotificationEvent) error
}

// Presenter shows at most one visible alert per tag, whichever producer
// (push or poll) delivers it first.
type Presenter struct {
	display Display
	window  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	visible map[string]time.Time
}

// NewPresenter builds a Presenter. A tag stays collapsed for window after it
// is shown, or until Dismiss; a zero window keeps it until Dismiss.
func NewPresenter(display Display, window time.Duration) *Presenter {
	return &Presenter{
		display: display,
		window:  window,
		now:     time.Now,
		visible: make(map[string]time.Time),
	}
}

// Present shows event unless an alert with the same tag is already visible.
// Failures are logged and never returned.
func (p *Presenter) Present(event model.NotificationEvent) {
	if strings.TrimSpace(event.Tag) == "" {
		event.Tag = DefaultTag
	}
	if !p.claim(event.Tag) {
		log.Debugf("presenter: %s already visible", event.Tag)
		return
	}

	err := p.show(event)
	if err == nil {
		return
	}
	log.Warnf("presenter: show %s: %v, retrying minimal", event.Tag, err)
	minimal := model.NotificationEvent{
		Title: event.Title,
		Body:  event.Body,
		Tag:   event.Tag,
	}
	if err := p.show(minimal); err != nil {
		// nothing is on screen, let the other producer try
		log.Errorf("presenter: fallback for %s failed: %v", event.Tag, err)
		p.Dismiss(event.Tag)
	}
}

// show turns a display panic into an error.
func (p *Presenter) show(event model.NotificationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("display panicked: %v", r)
		}
	}()
	return p.display.Show(event)
}

// Dismiss forgets a tag so the next alert carrying it is shown again.
func (p *Presenter) Dismiss(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.visible, tag)
}

// Visible reports whether tag is currently shown.
func (p *Presenter) Visible(tag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveLocked(tag)
}

// Activate handles a click on the alert: it dismisses the tag and returns the
// in-app location to navigate to.
func (p *Presenter) Activate(event model.NotificationEvent) string {
	tag := event.Tag
	if tag == "" {
		tag = DefaultTag
	}
	p.Dismiss(tag)
	return DeepLink(event)
}

// DeepLink is /?route=<id> for route-specific alerts and / otherwise.
func DeepLink(event model.NotificationEvent) string {
	if event.Data.Action == model.ActionOpenRoute && event.Data.RouteID != "" {
		return fmt.Sprintf("/?route=%s", url.QueryEscape(event.Data.RouteID))
	}
	return "/"
}

func (p *Presenter) claim(tag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.liveLocked(tag) {
		return false
	}
	p.visible[tag] = p.now()
	return true
}

func (p *Presenter) liveLocked(tag string) bool {
	shownAt, ok := p.visible[tag]
	if !ok {
		return false
	}
	if p.window > 0 && p.now().Sub(shownAt) >= p.window {
		delete(p.visible, tag)
		return false
	}
	return true
}
