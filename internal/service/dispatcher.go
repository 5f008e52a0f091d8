package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/schoolbus-labs/busreserve/internal/metrics"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/pushclient"
	"github.com/schoolbus-labs/busreserve/internal/storage"
	"golang.org/x/sync/errgroup"
)

var errPushDisabled = errors.New("web push is not configured")

// PushSender delivers one event to one subscription.
type PushSender interface {
	Send(ctx context.Context, sub *model.Subscription, event model.NotificationEvent) error
}

// Dispatcher fans a NotificationEvent out to every registered subscription.
type Dispatcher struct {
	store       storage.Store
	sender      PushSender
	metrics     *metrics.Metrics
	concurrency int
}

// NewDispatcher builds Dispatcher. A nil sender records every attempt as failed.
func NewDispatcher(store storage.Store, sender PushSender, m *metrics.Metrics, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{store: store, sender: sender, metrics: m, concurrency: concurrency}
}

// Broadcast delivers event to a snapshot of the registry. It never fails:
// per-subscription errors are counted, logged and, for dead channels, pruned.
func (d *Dispatcher) Broadcast(ctx context.Context, event model.NotificationEvent) model.DispatchSummary {
	summary := model.DispatchSummary{DispatchID: uuid.NewString(), Tag: event.Tag}
	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		log.Errorf("dispatch: list subscriptions: %v", err)
		return summary
	}
	summary, _ = d.deliverAll(ctx, summary, subs, event)
	return summary
}

// Test sends a one-off notification to a single subscriber.
func (d *Dispatcher) Test(ctx context.Context, subscriberID, title, body string) (model.DispatchSummary, []model.DispatchResult, error) {
	sub, err := d.store.GetSubscription(ctx, subscriberID)
	if err != nil {
		return model.DispatchSummary{}, nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = "Test notification"
	}
	if strings.TrimSpace(body) == "" {
		body = "Push notifications are working."
	}
	event := model.NotificationEvent{
		Title:     title,
		Body:      body,
		Tag:       "push-test",
		Timestamp: time.Now().UTC(),
	}
	summary, results := d.deliverAll(ctx, model.DispatchSummary{DispatchID: uuid.NewString(), Tag: event.Tag}, []*model.Subscription{sub}, event)
	return summary, results, nil
}

func (d *Dispatcher) deliverAll(ctx context.Context, summary model.DispatchSummary, subs []*model.Subscription, event model.NotificationEvent) (model.DispatchSummary, []model.DispatchResult) {
	started := time.Now()
	var (
		results = make([]model.DispatchResult, 0, len(subs))
		mu      sync.Mutex
		g       errgroup.Group
	)
	g.SetLimit(d.concurrency)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			res := d.deliver(ctx, summary.DispatchID, sub, event)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.SendNum = len(subs)
	for _, res := range results {
		switch res.Status {
		case model.DispatchSuccess:
			summary.SuccessCount++
		case model.DispatchPruned:
			summary.PrunedCount++
			summary.FailureCount++
		default:
			summary.FailureCount++
		}
	}
	d.metrics.Dispatch(len(subs), time.Since(started))
	log.Infof("dispatch: %s tag=%s sent=%d ok=%d failed=%d pruned=%d",
		summary.DispatchID, summary.Tag, summary.SendNum, summary.SuccessCount, summary.FailureCount, summary.PrunedCount)
	return summary, results
}

func (d *Dispatcher) deliver(ctx context.Context, dispatchID string, sub *model.Subscription, event model.NotificationEvent) model.DispatchResult {
	res := model.DispatchResult{SubscriberID: sub.SubscriberID, Status: model.DispatchSuccess}
	err := errPushDisabled
	if d.sender != nil {
		err = d.sender.Send(ctx, sub, event)
	}
	switch {
	case err == nil:
	case errors.Is(err, pushclient.ErrChannelInvalid):
		res.Status = model.DispatchFailed
		res.Message = err.Error()
		// a concurrent re-subscribe replaces the endpoint and must survive the prune
		removed, derr := d.store.DeleteSubscriptionIf(context.WithoutCancel(ctx), sub.SubscriberID, sub.Channel.Endpoint)
		if derr != nil {
			log.Warnf("dispatch: prune %s: %v", sub.SubscriberID, derr)
		} else if removed {
			res.Status = model.DispatchPruned
			d.metrics.Pruned()
			log.Infof("dispatch: pruned subscription of %s: %v", sub.SubscriberID, err)
		}
	default:
		res.Status = model.DispatchFailed
		res.Message = err.Error()
		log.Warnf("dispatch: send to %s: %v", sub.SubscriberID, err)
	}
	d.metrics.Delivery(res.Status)
	d.appendLog(ctx, dispatchID, sub, event, res)
	return res
}

func (d *Dispatcher) appendLog(ctx context.Context, dispatchID string, sub *model.Subscription, event model.NotificationEvent, res model.DispatchResult) {
	entry := &model.DispatchLog{
		DispatchID:   dispatchID,
		SubscriberID: sub.SubscriberID,
		Endpoint:     maskEndpoint(sub.Channel.Endpoint),
		Tag:          event.Tag,
		Title:        event.Title,
		Status:       res.Status,
		Result:       res.Message,
	}
	if err := d.store.AppendDispatchLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Errorf("dispatch: append log: %v", err)
	}
}

// maskEndpoint keeps the push service host and hides the per-device path.
func maskEndpoint(endpoint string) string {
	idx := strings.Index(endpoint, "://")
	if idx < 0 {
		return maskValue(endpoint)
	}
	rest := endpoint[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return endpoint
	}
	return fmt.Sprintf("%s/%s", endpoint[:idx+3+slash], maskValue(rest[slash+1:]))
}

func maskValue(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 4 {
		return value
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-4)
}
