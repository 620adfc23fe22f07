package realtime

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hitoshi/todoman/internal/model"
)

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantErr   bool
		wantEvent model.ChangeEvent
		wantNew   bool
		wantOld   bool
	}{
		{
			name:      "insert",
			payload:   `{"event":"INSERT","table":"todos","new":{"id":1,"user_id":"u1"},"old":null}`,
			wantEvent: model.ChangeInsert,
			wantNew:   true,
		},
		{
			name:      "delete keeps old row",
			payload:   `{"event":"DELETE","table":"todos","new":null,"old":{"id":1,"user_id":"u1"}}`,
			wantEvent: model.ChangeDelete,
			wantOld:   true,
		},
		{name: "not json", payload: `not-json`, wantErr: true},
		{name: "unknown event", payload: `{"event":"TRUNCATE","table":"todos"}`, wantErr: true},
		{name: "missing table", payload: `{"event":"UPDATE"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DecodeNotification(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeNotification() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.Event != tt.wantEvent {
				t.Errorf("event = %q, want %q", c.Event, tt.wantEvent)
			}
			if (len(c.New) > 0) != tt.wantNew {
				t.Errorf("new = %s, want present=%v", c.New, tt.wantNew)
			}
			if (len(c.Old) > 0) != tt.wantOld {
				t.Errorf("old = %s, want present=%v", c.Old, tt.wantOld)
			}
		})
	}
}

func TestRowOwner(t *testing.T) {
	tests := []struct {
		name   string
		change model.Change
		want   string
		wantOK bool
	}{
		{"from new", model.Change{New: []byte(`{"user_id":"u1"}`)}, "u1", true},
		{"falls back to old", model.Change{Old: []byte(`{"user_id":"u2"}`)}, "u2", true},
		{"non-string field", model.Change{New: []byte(`{"user_id":7}`)}, "", false},
		{"not an object", model.Change{New: []byte(`[1,2]`)}, "", false},
		{"empty", model.Change{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RowOwner(tt.change, "user_id")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("RowOwner() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

type recordingPublisher struct {
	changes []model.Change
}

func (p *recordingPublisher) Publish(c model.Change) {
	p.changes = append(p.changes, c)
}

func TestPGListener_HandlePayload(t *testing.T) {
	var buf bytes.Buffer
	pub := &recordingPublisher{}
	metrics := &mockMetrics{}
	l := NewPGListener(PGListenerConfig{}, pub, testLogger(&buf), metrics)

	l.HandlePayload(`{"event":"UPDATE","table":"profiles","new":{"id":"u1"}}`)
	l.HandlePayload(`{"event":`)

	if len(pub.changes) != 1 || pub.changes[0].Table != model.TableProfiles {
		t.Fatalf("published = %+v, want one profiles change", pub.changes)
	}
	if metrics.dropped != 1 {
		t.Errorf("dropped = %d, want 1", metrics.dropped)
	}
	if !strings.Contains(buf.String(), "dropping malformed change payload") {
		t.Errorf("malformed payload should be logged: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("malformed payload should be logged at WARN: %s", buf.String())
	}
}

func TestNewPGListener_DefaultPingInterval(t *testing.T) {
	l := NewPGListener(PGListenerConfig{}, &recordingPublisher{}, testLogger(&bytes.Buffer{}), nil)

	if l.cfg.PingInterval <= 0 {
		t.Errorf("PingInterval = %v, want a positive default", l.cfg.PingInterval)
	}

	// メトリクスなしでも不正ペイロードで落ちない
	l.HandlePayload("garbage")
}

func TestPGListener_HandleReconnect(t *testing.T) {
	var buf bytes.Buffer
	pub := &recordingPublisher{}
	l := NewPGListener(PGListenerConfig{}, pub, testLogger(&buf), nil)

	l.HandleReconnect()

	if len(pub.changes) != len(model.ChangeTables) {
		t.Fatalf("published %d changes, want %d", len(pub.changes), len(model.ChangeTables))
	}
	for i, c := range pub.changes {
		if c.Table != model.ChangeTables[i] {
			t.Errorf("changes[%d].Table = %q, want %q", i, c.Table, model.ChangeTables[i])
		}
		if c.Event != model.ChangeUpdate || !c.IsResync() {
			t.Errorf("changes[%d] = %+v, want a row-less UPDATE", i, c)
		}
	}
	if !strings.Contains(buf.String(), "requesting resync") {
		t.Errorf("reconnect should be logged: %s", buf.String())
	}
}

// トリガーが送るキー列のみのペイロードは再同期として扱わない。
func TestDecodeNotification_KeyOnlyRowsAreNotResync(t *testing.T) {
	for _, payload := range []string{
		`{"event":"INSERT","table":"todos","new":{"id":1,"user_id":"u1"},"old":null}`,
		`{"event":"DELETE","table":"todos","new":null,"old":{"id":1,"user_id":"u1"}}`,
		`{"event":"UPDATE","table":"profiles","new":{"id":"u1"},"old":{"id":"u1"}}`,
	} {
		c, err := DecodeNotification(payload)
		if err != nil {
			t.Fatalf("DecodeNotification(%s) error = %v", payload, err)
		}
		if c.IsResync() {
			t.Errorf("DecodeNotification(%s) was treated as resync", payload)
		}
	}
}
