package model

import "time"

// DispatchLog tracks each push attempt.
type DispatchLog struct {
	ID           uint64    `json:"id"`
	DispatchID   string    `json:"dispatch_id"`
	SubscriberID string    `json:"student_id"`
	Endpoint     string    `json:"endpoint"`
	Tag          string    `json:"tag"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	Result       string    `json:"result"`
	CreatedAt    time.Time `json:"created_at"`
}

// DispatchLogFilter describes query parameters for log searching.
type DispatchLogFilter struct {
	SubscriberID string
	DispatchID   string
	Status       string
	BeginTime    *time.Time
	EndTime      *time.Time
	Page         int
	PageSize     int
}

// DispatchLogPage is one page of dispatch logs.
type DispatchLogPage struct {
	Data     []*DispatchLog `json:"data"`
	Total    int            `json:"total"`
	Pages    int            `json:"pages"`
	PageNum  int            `json:"page_num"`
	PageSize int            `json:"page_size"`
}
