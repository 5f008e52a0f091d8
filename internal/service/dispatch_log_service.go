package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/storage"
)

// DispatchLogService provides filtering and statistics over push attempts.
type DispatchLogService struct {
	store storage.Store
}

// NewDispatchLogService builds the dispatch log service.
func NewDispatchLogService(store storage.Store) *DispatchLogService {
	return &DispatchLogService{store: store}
}

// Query returns paginated logs, newest first.
func (s *DispatchLogService) Query(ctx context.Context, filter model.DispatchLogFilter) (*model.DispatchLogPage, error) {
	logs, err := s.filteredLogs(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(logs)
	if filter.PageSize <= 0 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	start := min((filter.Page-1)*filter.PageSize, total)
	end := min(start+filter.PageSize, total)

	return &model.DispatchLogPage{
		Data:     logs[start:end],
		Total:    total,
		Pages:    (total + filter.PageSize - 1) / filter.PageSize,
		PageNum:  filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// CountByDate aggregates logs per day/month/year.
func (s *DispatchLogService) CountByDate(ctx context.Context, dateType string, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DispatchLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}

	layout := "2006-01-02"
	switch strings.ToLower(dateType) {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}

	counter := make(map[string]int)
	for _, log := range logs {
		counter[log.CreatedAt.Format(layout)]++
	}
	return mapToKV(counter, "date"), nil
}

// CountByStatus aggregates by delivery outcome.
func (s *DispatchLogService) CountByStatus(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DispatchLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, log := range logs {
		status := log.Status
		if status == "" {
			status = "UNKNOWN"
		}
		counter[status]++
	}
	return mapToKV(counter, "status"), nil
}

// CountByTag aggregates per notification tag.
func (s *DispatchLogService) CountByTag(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DispatchLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, log := range logs {
		counter[log.Tag]++
	}
	return mapToKV(counter, "tag"), nil
}

func (s *DispatchLogService) filteredLogs(ctx context.Context, filter model.DispatchLogFilter) ([]*model.DispatchLog, error) {
	all, err := s.store.ListDispatchLogs(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]*model.DispatchLog, 0, len(all))
	for _, log := range all {
		if filter.SubscriberID != "" && !strings.EqualFold(log.SubscriberID, filter.SubscriberID) {
			continue
		}
		if filter.DispatchID != "" && log.DispatchID != filter.DispatchID {
			continue
		}
		if filter.Status != "" && !strings.EqualFold(log.Status, filter.Status) {
			continue
		}
		if filter.BeginTime != nil && log.CreatedAt.Before(filter.BeginTime.UTC()) {
			continue
		}
		if filter.EndTime != nil && log.CreatedAt.After(filter.EndTime.UTC()) {
			continue
		}
		matches = append(matches, log)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].ID > matches[j].ID
	})
	return matches, nil
}

func mapToKV(counter map[string]int, key string) []map[string]any {
	result := make([]map[string]any, 0, len(counter))
	for k, v := range counter {
		result = append(result, map[string]any{
			key:     k,
			"count": v,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][key].(string) < result[j][key].(string)
	})
	return result
}
