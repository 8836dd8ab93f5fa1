package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/testutil/testlog"
)

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func TestNormalizeChats(t *testing.T) {
	testlog.Start(t)
	var chats []messenger.Chat
	raw := `[
		{"id":{"_serialized":"1@g.us"},"name":"Team","isGroup":true,"timestamp":1700000000},
		{"id":"2@c.us","name":"","timestamp":null},
		{"id":null,"name":"dropped"}
	]`
	if err := json.Unmarshal([]byte(raw), &chats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	records := NormalizeChats(chats)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "1@g.us" || !records[0].Flag || records[0].Timestamp == nil {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Title != "2@c.us" || records[1].Timestamp != nil {
		t.Fatalf("expected id fallback name and nil timestamp: %+v", records[1])
	}
}

func TestRecordJSONShapes(t *testing.T) {
	testlog.Start(t)
	chat, err := json.Marshal(Record{Kind: KindConversations, ID: "1@g.us", Title: "Team", Flag: true, Timestamp: at(1700000000)})
	if err != nil {
		t.Fatalf("marshal chat: %v", err)
	}
	want := `{"id":"1@g.us","name":"Team","isGroup":true,"timestamp":"2023-11-14T22:13:20Z"}`
	if string(chat) != want {
		t.Fatalf("chat json\n got: %s\nwant: %s", chat, want)
	}

	msg, err := json.Marshal(Record{Kind: KindMessages, ID: "m1", Title: "hello", Flag: true})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	want = `{"id":"m1","body":"hello","fromMe":true,"timestamp":null}`
	if string(msg) != want {
		t.Fatalf("message json\n got: %s\nwant: %s", msg, want)
	}
}

func TestMostRecentOrdering(t *testing.T) {
	testlog.Start(t)
	records := []Record{
		{ID: "none"},
		{ID: "old", Timestamp: at(100)},
		{ID: "new", Timestamp: at(300)},
		{ID: "mid", Timestamp: at(200)},
		{ID: "none2"},
	}
	got, ok := MostRecent(records)
	if !ok || got.ID != "new" {
		t.Fatalf("expected newest record, got %+v ok=%v", got, ok)
	}
	sorted := SortByRecent(records)
	order := []string{"new", "mid", "old", "none", "none2"}
	for i, id := range order {
		if sorted[i].ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, sorted[i].ID)
		}
	}
	if records[0].ID != "none" {
		t.Fatalf("input must not be reordered")
	}
	if _, ok := MostRecent(nil); ok {
		t.Fatalf("expected no selection from empty input")
	}
}

func TestRegistryChain(t *testing.T) {
	testlog.Start(t)
	reg := DefaultRegistry()
	chain, err := reg.Chain([]string{"store", " primary ", "", "store"})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain) != 2 || chain[0].Name() != "store" || chain[1].Name() != "primary" {
		t.Fatalf("unexpected chain: %v", chain)
	}
	_, err = reg.Chain([]string{"primary", "telepathy"})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
	if !strings.Contains(err.Error(), "known: cache, eval, primary, store") {
		t.Fatalf("expected known strategies in error, got %v", err)
	}
	if err := reg.Register(Primary{}); !errors.Is(err, ErrStrategyExists) {
		t.Fatalf("expected ErrStrategyExists, got %v", err)
	}
	if err := reg.Register(StrategyFunc{Label: "Bad Name"}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if err := reg.Register(nil); !errors.Is(err, ErrStrategyNil) {
		t.Fatalf("expected ErrStrategyNil, got %v", err)
	}
	names := reg.Names()
	if len(names) != 4 || names[0] != "cache" || names[3] != "store" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestBuiltinStrategiesRejectUnsupportedHandles(t *testing.T) {
	testlog.Start(t)
	if _, err := (Cache{}).Fetch(context.Background(), bareCapability{}, Messages("1@c.us", 1)); !errors.Is(err, messenger.ErrUnsupported) {
		t.Fatalf("expected unsupported for cache messages, got %v", err)
	}
	if _, err := (Store{}).Fetch(context.Background(), bareCapability{}, Conversations()); !errors.Is(err, messenger.ErrUnsupported) {
		t.Fatalf("expected unsupported store, got %v", err)
	}
	if _, err := (Eval{}).Fetch(context.Background(), bareCapability{}, Conversations()); !errors.Is(err, messenger.ErrUnsupported) {
		t.Fatalf("expected unsupported eval, got %v", err)
	}
}

// bareCapability implements only the required capability surface.
type bareCapability struct {
	messenger.Capability
}
