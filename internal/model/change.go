package model

import "encoding/json"

// ChangeEvent は行レベル変更の種別。
type ChangeEvent string

const (
	ChangeInsert ChangeEvent = "INSERT"
	ChangeUpdate ChangeEvent = "UPDATE"
	ChangeDelete ChangeEvent = "DELETE"
)

// ChangeChannel はDBトリガーが変更を通知するLISTEN/NOTIFYチャネル名。
// マイグレーションのnotify_row_change()と同じ値でなければならない。
const ChangeChannel = "todoman_changes"

// 変更フィードの対象テーブル
const (
	TableTodos         = "todos"
	TableProfiles      = "profiles"
	TableEmailProfiles = "email_profiles"
)

// ChangeTables は変更フィードが通知する全テーブル。
var ChangeTables = []string{TableTodos, TableProfiles, TableEmailProfiles}

// Change は変更フィードが配信する1件の行変更。
// New/OldはDBトリガーが生成したキー列(id, user_id)のJSONで、該当しない場合は空。
// New/Oldがともに空のUPDATEは再同期の合図で、購読側は対象を再取得する。
type Change struct {
	Event ChangeEvent     `json:"event"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// NewResyncChange はtableの再同期を促す変更を返す。
func NewResyncChange(table string) Change {
	return Change{Event: ChangeUpdate, Table: table}
}

// IsResync は行を伴わない再同期の合図であればtrueを返す。
func (c Change) IsResync() bool {
	return len(c.New) == 0 && len(c.Old) == 0
}
