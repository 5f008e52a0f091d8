package notify

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schoolbus-labs/busreserve/internal/model"
)

// WriterDisplay renders alerts as text lines, used by the watch command.
type WriterDisplay struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterDisplay builds a WriterDisplay.
func NewWriterDisplay(w io.Writer) *WriterDisplay {
	return &WriterDisplay{w: w}
}

// Show implements Display.
func (d *WriterDisplay) Show(event model.NotificationEvent) error {
	if strings.TrimSpace(event.Title) == "" && strings.TrimSpace(event.Body) == "" {
		return errors.New("empty notification")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	line := fmt.Sprintf("[%s] %s: %s", at.Local().Format("15:04:05"), event.Title, event.Body)
	if link := DeepLink(event); link != "/" {
		line += " (open " + link + ")"
	}
	_, err := fmt.Fprintln(d.w, line)
	return err
}
