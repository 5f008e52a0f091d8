package service

import (
	"context"
	"testing"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchLogQueryAndCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i, status := range []string{model.DispatchSuccess, model.DispatchSuccess, model.DispatchFailed, model.DispatchPruned, model.DispatchSuccess} {
		require.NoError(t, f.store.AppendDispatchLog(ctx, &model.DispatchLog{
			DispatchID:   "d1",
			SubscriberID: []string{"S1", "S2"}[i%2],
			Tag:          "reservation-open-1",
			Status:       status,
		}))
	}

	page, err := f.logs.Query(ctx, model.DispatchLogFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Data, 2)
	assert.Equal(t, uint64(3), page.Data[0].ID)

	page, err = f.logs.Query(ctx, model.DispatchLogFilter{SubscriberID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = f.logs.Query(ctx, model.DispatchLogFilter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Data)

	byStatus, err := f.logs.CountByStatus(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"status": model.DispatchFailed, "count": 1},
		{"status": model.DispatchPruned, "count": 1},
		{"status": model.DispatchSuccess, "count": 3},
	}, byStatus)

	byTag, err := f.logs.CountByTag(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, 5, byTag[0]["count"])

	byDate, err := f.logs.CountByDate(ctx, "month", nil, nil)
	require.NoError(t, err)
	require.Len(t, byDate, 1)
}
