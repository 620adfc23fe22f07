// Package preference はTODO一覧の並び順設定を永続化するストアを提供する。
package preference

import (
	"context"
	"log/slog"

	"github.com/hitoshi/todoman/internal/eventloop"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/reactive"
)

// 永続化に使うキー
const (
	KeySortBy = "todos-sort-by"
	KeyOrder  = "todos-order"
)

// Store は並び順設定を保持する。
// 変更は永続化してからメモリ上の値を更新するため、再読み込み後も同じ並び順になる。
type Store struct {
	loop   *eventloop.Loop
	kv     KV
	logger *slog.Logger
	value  *reactive.Value[model.SortOptions]
}

// NewStore は保存済みの値を読み込んでStoreを生成する。
// 値がない、不正、または読み込みに失敗した場合は既定値（作成日時の降順）を使う。
func NewStore(ctx context.Context, loop *eventloop.Loop, kv KV, logger *slog.Logger) *Store {
	s := &Store{loop: loop, kv: kv, logger: logger}
	s.value = reactive.NewValue(s.load(ctx))
	return s
}

func (s *Store) load(ctx context.Context) model.SortOptions {
	opts := model.DefaultSortOptions()

	if v, ok := s.read(ctx, KeySortBy); ok && model.SortBy(v).Valid() {
		opts.SortBy = model.SortBy(v)
	}
	if v, ok := s.read(ctx, KeyOrder); ok && model.Order(v).Valid() {
		opts.Order = model.Order(v)
	}
	return opts
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("failed to load sort preference, using default",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return v, ok
}

// State は現在の並び順を返す。
func (s *Store) State() model.SortOptions {
	return s.value.Get()
}

// OnChange は並び順の変更ごとにイベントループ上で呼ばれるリスナーを登録する。
func (s *Store) OnChange(fn func(model.SortOptions)) func() {
	return s.value.OnChange(fn)
}

// SetSortBy はソートキーを保存して反映する。イベントループ上から呼び出してはならない。
func (s *Store) SetSortBy(ctx context.Context, sortBy model.SortBy) error {
	if !sortBy.Valid() {
		return model.NewValidationError([]model.FieldError{{Field: "sort_by", Message: "不正なソートキーです"}})
	}
	if err := s.persist(ctx, KeySortBy, string(sortBy)); err != nil {
		return err
	}
	s.update(func(o *model.SortOptions) { o.SortBy = sortBy })
	return nil
}

// SetOrder はソート方向を保存して反映する。イベントループ上から呼び出してはならない。
func (s *Store) SetOrder(ctx context.Context, order model.Order) error {
	if !order.Valid() {
		return model.NewValidationError([]model.FieldError{{Field: "order", Message: "不正なソート方向です"}})
	}
	if err := s.persist(ctx, KeyOrder, string(order)); err != nil {
		return err
	}
	s.update(func(o *model.SortOptions) { o.Order = order })
	return nil
}

func (s *Store) persist(ctx context.Context, key, value string) error {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.Error("failed to persist sort preference",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return model.NewMutationError("並び順の保存")
	}
	return nil
}

func (s *Store) update(fn func(*model.SortOptions)) {
	apply := func() {
		cur := s.value.Get()
		fn(&cur)
		s.value.Set(cur)
	}
	if !s.loop.Do(apply) {
		// ワークスペース終了後は購読者がいないため直接更新する
		apply()
	}
}
