package service

import (
	"context"
	"testing"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingRequiresOpenRoute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createRoute(t, "R1", 3)

	_, err := f.bookings.Book(ctx, BookingRequest{StudentID: "S1", RouteID: "R1"})
	assert.ErrorIs(t, err, ErrReservationClosed)

	// gate open through another route, R1 itself still closed
	f.createRoute(t, "R2", 3)
	_, err = f.routes.Toggle(ctx, "R2")
	require.NoError(t, err)
	_, err = f.bookings.Book(ctx, BookingRequest{StudentID: "S1", RouteID: "R1"})
	assert.ErrorIs(t, err, ErrReservationClosed)
}

func TestBookingSoldOutAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createRoute(t, "R1", 3)
	_, err := f.routes.Toggle(ctx, "R1")
	require.NoError(t, err)

	b1, err := f.bookings.Book(ctx, BookingRequest{StudentID: "S1", RouteID: "R1", SeatCount: 2})
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, b1.Status)

	_, err = f.bookings.Book(ctx, BookingRequest{StudentID: "S2", RouteID: "R1", SeatCount: 2})
	assert.ErrorIs(t, err, ErrSoldOut)

	b2, err := f.bookings.Book(ctx, BookingRequest{StudentID: "S2", RouteID: "R1"})
	require.NoError(t, err)
	assert.Equal(t, 1, b2.SeatCount)

	route, err := f.routes.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 0, route.AvailableSeats)

	cancelled, err := f.bookings.Cancel(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)

	_, err = f.bookings.Cancel(ctx, b1.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	route, err = f.routes.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 2, route.AvailableSeats)

	list, err := f.bookings.ListByStudent(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.BookingCancelled, list[0].Status)
}

func TestBookingValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.bookings.Book(context.Background(), BookingRequest{RouteID: "R1"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.bookings.Book(context.Background(), BookingRequest{StudentID: "S1", RouteID: "R1", SeatCount: -2})
	assert.ErrorIs(t, err, ErrValidation)
}
