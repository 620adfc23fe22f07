package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// DecodeNotification はNOTIFYペイロード（{event, table, new, old}のJSON）を変更に変換する。
func DecodeNotification(payload string) (model.Change, error) {
	var c model.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return model.Change{}, fmt.Errorf("failed to decode change payload: %w", err)
	}

	switch c.Event {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		return model.Change{}, fmt.Errorf("unknown change event: %q", c.Event)
	}
	if c.Table == "" {
		return model.Change{}, fmt.Errorf("change payload has no table")
	}

	c.New = normalizeRow(c.New)
	c.Old = normalizeRow(c.Old)
	return c, nil
}

// normalizeRow はJSONのnullを空に揃える。
func normalizeRow(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

// RowString は行JSONから文字列フィールドを取り出す。
// 行が空、JSONオブジェクトでない、またはフィールドが文字列でない場合はfalseを返す。
func RowString(raw json.RawMessage, field string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var row map[string]json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return "", false
	}
	v, ok := row[field]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// RowOwner は変更の対象行の所有ユーザーIDを返す。
// newを優先し、DELETEではoldを参照する。
func RowOwner(c model.Change, field string) (string, bool) {
	if id, ok := RowString(c.New, field); ok {
		return id, true
	}
	return RowString(c.Old, field)
}
