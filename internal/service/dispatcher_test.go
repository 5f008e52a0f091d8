package service

import (
	"context"
	"errors"
	"testing"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchPrunesInvalidChannelsAndKeepsGoing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.subscribe(t, "S1", "S2", "S3", "S4", "S5")
	f.sender.invalid["S2"] = true
	f.sender.invalid["S4"] = true
	f.createRoute(t, "ROUTE_001", 20)

	res, err := f.routes.Toggle(ctx, "ROUTE_001")
	require.NoError(t, err, "toggle must succeed even when deliveries fail")
	require.NotNil(t, res.Gate.Push)
	assert.Equal(t, 5, res.Gate.Push.SendNum)
	assert.Equal(t, 3, res.Gate.Push.SuccessCount)
	assert.Equal(t, 2, res.Gate.Push.FailureCount)
	assert.Equal(t, 2, res.Gate.Push.PrunedCount)

	subs, err := f.store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 3)
	_, err = f.store.GetSubscription(ctx, "S2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	logs, err := f.store.ListDispatchLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 5)
}

func TestDispatchTransientFailureKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.subscribe(t, "S1", "S2")
	f.sender.fail["S1"] = errors.New("push http status 503 Service Unavailable")

	d := NewDispatcher(f.store, f.sender, nil, 2)
	summary := d.Broadcast(ctx, model.NotificationEvent{Title: "t", Tag: "x"})
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	assert.Equal(t, 0, summary.PrunedCount)

	_, err := f.store.GetSubscription(ctx, "S1")
	assert.NoError(t, err)
}

func TestDispatchDoesNotPruneResubscribedChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.subscribe(t, "S1")
	f.sender.invalid["S1"] = true
	f.sender.onSend = func(sub *model.Subscription) {
		// the student re-subscribes while the old channel is being rejected
		_, err := f.subs.Subscribe(ctx, SubscribeRequest{
			StudentID: sub.SubscriberID,
			Subscription: model.Channel{
				Endpoint: "https://fcm.googleapis.com/fcm/send/fresh",
				Keys:     model.ChannelKeys{P256dh: "p", Auth: "a"},
			},
		})
		assert.NoError(t, err)
	}

	d := NewDispatcher(f.store, f.sender, nil, 1)
	summary := d.Broadcast(ctx, model.NotificationEvent{Tag: "x"})
	assert.Equal(t, 1, summary.FailureCount)
	assert.Equal(t, 0, summary.PrunedCount)

	sub, err := f.store.GetSubscription(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "https://fcm.googleapis.com/fcm/send/fresh", sub.Channel.Endpoint)
}

func TestDispatchWithoutSenderCountsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.subscribe(t, "S1", "S2")

	d := NewDispatcher(f.store, nil, nil, 4)
	summary := d.Broadcast(ctx, model.NotificationEvent{Tag: "x"})
	assert.Equal(t, 2, summary.SendNum)
	assert.Equal(t, 2, summary.FailureCount)
}

func TestDispatchTestTargetsOneSubscriber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.subscribe(t, "S1", "S2")

	d := NewDispatcher(f.store, f.sender, nil, 4)
	summary, results, err := d.Test(ctx, "S2", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SuccessCount)
	require.Len(t, results, 1)
	assert.Equal(t, "S2", results[0].SubscriberID)
	assert.Equal(t, []string{"S2"}, f.sender.sent)

	_, _, err = d.Test(ctx, "nobody", "", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMaskEndpoint(t *testing.T) {
	assert.Equal(t, "https://fcm.googleapis.com/fcm/********", maskEndpoint("https://fcm.googleapis.com/fcm/send/abc"))
	assert.Equal(t, "https://push.example", maskEndpoint("https://push.example"))
}
