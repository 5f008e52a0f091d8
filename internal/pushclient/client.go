package pushclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/schoolbus-labs/busreserve/internal/model"
)

// ErrChannelInvalid marks a channel the push service will never accept again.
// Callers prune the subscription when they see it.
var ErrChannelInvalid = errors.New("push channel invalid")

// Options configures the VAPID identity and delivery hints.
type Options struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        int
	Urgency    string
	Timeout    time.Duration
}

// Client delivers NotificationEvents over the Web Push protocol.
type Client struct {
	opts Options
	http *http.Client
}

// New creates a Web Push client.
func New(opts Options) (*Client, error) {
	if opts.PublicKey == "" || opts.PrivateKey == "" {
		return nil, fmt.Errorf("vapid key pair is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 86400
	}
	if opts.Urgency == "" {
		opts.Urgency = string(webpush.UrgencyHigh)
	}
	// webpush-go adds the mailto: scheme itself
	opts.Subscriber = strings.TrimPrefix(opts.Subscriber, "mailto:")
	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// PublicKey returns the application server key browsers subscribe with.
func (c *Client) PublicKey() string {
	return c.opts.PublicKey
}

// Send encrypts event for the subscription's channel and posts it to the push service.
func (c *Client) Send(ctx context.Context, sub *model.Subscription, event model.NotificationEvent) error {
	if err := ValidateChannel(sub.Channel); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Channel.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Channel.Keys.P256dh,
			Auth:   sub.Channel.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      c.http,
		Subscriber:      c.opts.Subscriber,
		TTL:             c.opts.TTL,
		Urgency:         webpush.Urgency(c.opts.Urgency),
		Topic:           topic(event.Tag),
		VAPIDPublicKey:  c.opts.PublicKey,
		VAPIDPrivateKey: c.opts.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("push service %s: %w", resp.Status, ErrChannelInvalid)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("push http status %s", resp.Status)
	}
	return nil
}

// ValidateChannel rejects descriptors that can never be delivered to.
func ValidateChannel(ch model.Channel) error {
	u, err := url.Parse(strings.TrimSpace(ch.Endpoint))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("endpoint %q: %w", ch.Endpoint, ErrChannelInvalid)
	}
	if strings.TrimSpace(ch.Keys.P256dh) == "" || strings.TrimSpace(ch.Keys.Auth) == "" {
		return fmt.Errorf("missing p256dh/auth keys: %w", ErrChannelInvalid)
	}
	return nil
}

// EndpointType names the push service behind an endpoint for diagnostics.
func EndpointType(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "apple.com"):
		return "Apple"
	case strings.Contains(endpoint, "fcm.googleapis.com"), strings.Contains(endpoint, "android.googleapis.com"):
		return "FCM"
	case strings.Contains(endpoint, "mozilla.com"):
		return "Mozilla"
	case strings.Contains(endpoint, "windows.com"), strings.Contains(endpoint, "notify.windows"):
		return "WNS"
	default:
		return "Other"
	}
}

// GenerateKeys creates a new VAPID key pair.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

// topic lets the push service replace an undelivered message with the same tag.
// Topics are limited to 32 url-safe characters; the tail carries the timestamp.
func topic(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 32 {
		out = out[len(out)-32:]
	}
	return out
}
