package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/storage"
)

var (
	ErrReservationClosed = errors.New("reservation is closed")
	ErrSoldOut           = errors.New("not enough seats available")
	ErrAlreadyCancelled  = errors.New("booking already cancelled")
)

// BookingRequest is the student's reservation payload.
type BookingRequest struct {
	StudentID string `json:"student_id"`
	RouteID   string `json:"route_id"`
	SeatCount int    `json:"seat_count"`
}

// BookingService reserves and releases seats.
type BookingService struct {
	store storage.Store
}

// NewBookingService builds BookingService.
func NewBookingService(store storage.Store) *BookingService {
	return &BookingService{store: store}
}

// Book consumes seats on an open route.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.RouteID = strings.TrimSpace(req.RouteID)
	if req.StudentID == "" || req.RouteID == "" {
		return nil, fmt.Errorf("%w: student_id and route_id are required", ErrValidation)
	}
	if req.SeatCount == 0 {
		req.SeatCount = 1
	}
	if req.SeatCount < 0 {
		return nil, fmt.Errorf("%w: seat_count must be positive", ErrValidation)
	}

	gate, err := s.store.GetGate(ctx)
	if err != nil {
		return nil, err
	}
	if !gate.IsOpen {
		return nil, ErrReservationClosed
	}

	booking := &model.Booking{
		ID:        uuid.NewString(),
		StudentID: req.StudentID,
		RouteID:   req.RouteID,
		SeatCount: req.SeatCount,
		Status:    model.BookingConfirmed,
		CreatedAt: time.Now().UTC(),
	}
	err = s.store.CreateBooking(ctx, booking, func(r *model.Route) error {
		if !r.IsOpen {
			return fmt.Errorf("route %s: %w", r.RouteID, ErrReservationClosed)
		}
		if r.AvailableSeats < booking.SeatCount {
			return fmt.Errorf("route %s has %d left: %w", r.RouteID, r.AvailableSeats, ErrSoldOut)
		}
		r.AvailableSeats -= booking.SeatCount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// Cancel releases the booking's seats back to its route.
func (s *BookingService) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	return s.store.CancelBooking(ctx, strings.TrimSpace(id), func(r *model.Route, b *model.Booking) error {
		if b.Status == model.BookingCancelled {
			return ErrAlreadyCancelled
		}
		if r != nil {
			r.AvailableSeats = min(r.TotalSeats, r.AvailableSeats+b.SeatCount)
		}
		return nil
	})
}

// ListByStudent returns a student's bookings.
func (s *BookingService) ListByStudent(ctx context.Context, studentID string) ([]*model.Booking, error) {
	return s.store.ListBookingsByStudent(ctx, strings.TrimSpace(studentID))
}
