package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/pushclient"
	"github.com/schoolbus-labs/busreserve/internal/storage"
)

// SubscribeRequest is the POST /api/push/subscribe payload.
type SubscribeRequest struct {
	StudentID    string        `json:"student_id"`
	Subscription model.Channel `json:"subscription"`
	DeviceType   string        `json:"device_type"`
}

// SubscriptionService manages the push subscription registry.
type SubscriptionService struct {
	store storage.Store
}

// NewSubscriptionService builds SubscriptionService.
func NewSubscriptionService(store storage.Store) *SubscriptionService {
	return &SubscriptionService{store: store}
}

// Subscribe upserts the subscriber's channel. Repeating the same request
// leaves exactly one record.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (*model.Subscription, error) {
	studentID := strings.TrimSpace(req.StudentID)
	if studentID == "" {
		return nil, fmt.Errorf("%w: student_id is required", ErrValidation)
	}
	if err := pushclient.ValidateChannel(req.Subscription); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	sub := &model.Subscription{
		SubscriberID: studentID,
		DeviceClass:  model.ParseDeviceClass(req.DeviceType),
		Channel:      req.Subscription,
	}
	sub.Channel.Endpoint = strings.TrimSpace(sub.Channel.Endpoint)
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes the subscriber's channel; removing a missing one is not an error.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, studentID string) (bool, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return false, fmt.Errorf("%w: student_id is required", ErrValidation)
	}
	return s.store.DeleteSubscription(ctx, studentID)
}

// Get returns the raw subscription.
func (s *SubscriptionService) Get(ctx context.Context, studentID string) (*model.Subscription, error) {
	return s.store.GetSubscription(ctx, strings.TrimSpace(studentID))
}

// Debug describes a subscriber's registration without exposing channel keys.
func (s *SubscriptionService) Debug(ctx context.Context, studentID string) (*model.SubscriptionView, error) {
	sub, err := s.Get(ctx, studentID)
	if errors.Is(err, storage.ErrNotFound) {
		return &model.SubscriptionView{StudentID: strings.TrimSpace(studentID)}, nil
	}
	if err != nil {
		return nil, err
	}
	return toView(sub), nil
}

// ListViews returns masked views of every subscription.
func (s *SubscriptionService) ListViews(ctx context.Context) ([]*model.SubscriptionView, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*model.SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, toView(sub))
	}
	return views, nil
}

func toView(sub *model.Subscription) *model.SubscriptionView {
	return &model.SubscriptionView{
		StudentID:       sub.SubscriberID,
		DeviceClass:     sub.DeviceClass,
		HasSubscription: true,
		Endpoint:        maskEndpoint(sub.Channel.Endpoint),
		EndpointType:    pushclient.EndpointType(sub.Channel.Endpoint),
		UpdatedAt:       sub.UpdatedAt,
	}
}
