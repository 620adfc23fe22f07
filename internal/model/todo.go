package model

import "time"

// Priority はTODOの優先度（3段階の順序値）。
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// Valid は優先度が定義済みの値かを返す。
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Todo はユーザーが所有するTODO項目を表す。
// IDはサーバー採番で、同値ソート時の安定順序に用いる。
type Todo struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
}

// TodoInput は追加・編集フォームの入力値。
// Priorityの0は未指定を表し、作成時はLowとして扱う。
type TodoInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// SortBy はTODO一覧の第2ソートキー。
type SortBy string

const (
	SortByCreatedAt SortBy = "created_at"
	SortByTitle     SortBy = "title"
	SortByPriority  SortBy = "priority"
)

// Valid はソートキーが許可された値かを返す。
func (s SortBy) Valid() bool {
	switch s {
	case SortByCreatedAt, SortByTitle, SortByPriority:
		return true
	}
	return false
}

// Order はソート方向。
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Valid はソート方向が許可された値かを返す。
func (o Order) Valid() bool {
	return o == OrderAsc || o == OrderDesc
}

// SortOptions はTODO一覧の並び順設定。
type SortOptions struct {
	SortBy SortBy `json:"sort_by"`
	Order  Order  `json:"order"`
}

// DefaultSortOptions は永続値がない場合の既定の並び順（作成日時の降順）。
func DefaultSortOptions() SortOptions {
	return SortOptions{SortBy: SortByCreatedAt, Order: OrderDesc}
}
