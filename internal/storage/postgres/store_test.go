package postgres

import (
	"context"
	"os"
	"testing"

	"contractWatch/internal/model"
)

func TestNewStoreRequiresDSN(t *testing.T) {
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

// TestStoreLive runs against a real database when WATCHER_TEST_PG_DSN is set.
func TestStoreLive(t *testing.T) {
	dsn := os.Getenv("WATCHER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("WATCHER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	record := model.LogRecord{
		ChainID:   31337,
		Address:   "0xLiveTest",
		EventName: "BuyTokens",
		TxHash:    "0xLIVE",
		LogIndex:  1,
		Topics:    []string{"0x01"},
		Args:      map[string]interface{}{"buyer": "0x02"},
		Receipt:   &model.ReceiptInfo{Status: 1},
	}
	if err := store.PutLogBatch(ctx, []model.LogRecord{record, record}); err != nil {
		t.Fatalf("put batch: %v", err)
	}

	other := record
	other.ChainID = 1
	if err := store.PutLogBatch(ctx, []model.LogRecord{other}); err != nil {
		t.Fatalf("put other chain: %v", err)
	}

	records, err := store.Records(ctx, 31337, "0xlivetest", "BuyTokens")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record on chain 31337, got %d", len(records))
	}
	if records[0].TxHash != "0xlive" || records[0].Args["buyer"] != "0x02" || records[0].Receipt == nil {
		t.Fatalf("unexpected record: %+v", records[0])
	}
	records, err = store.Records(ctx, 1, "0xLiveTest", "BuyTokens")
	if err != nil || len(records) != 1 {
		t.Fatalf("same key on another chain: n=%d err=%v", len(records), err)
	}

	if err := store.SaveState(ctx, "live-test", 11); err != nil {
		t.Fatalf("save state: %v", err)
	}
	block, ok, err := store.LoadState(ctx, "live-test")
	if err != nil || !ok || block != 11 {
		t.Fatalf("state: block=%d ok=%v err=%v", block, ok, err)
	}
}
