package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/storage/models"
)

func openTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "statchart.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheEntries(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	if _, ok, err := c.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("empty Get = %v, %v", ok, err)
	}

	if err := c.Put(ctx, "k", cache.Record{Value: []byte("v1"), Timestamp: now, TTL: time.Minute}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx, "k", cache.Record{Value: []byte("v2"), Timestamp: now, TTL: time.Hour}); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	rec, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(rec.Value) != "v2" || rec.TTL != time.Hour || !rec.Timestamp.Equal(now) {
		t.Errorf("record = %+v", rec)
	}

	_ = c.Put(ctx, "old", cache.Record{Value: []byte("x"), Timestamp: now, TTL: time.Minute})
	n, err := c.DeleteExpired(ctx, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Clear left entries behind")
	}
}

func TestQueryHistory(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	records := []models.QueryRecord{
		{ID: "1", SourceID: "worldbank", QueryType: "timeseries", QueryJSON: "{}", Status: models.QueryStatusOK, DatasetKind: "timeseries", LatencyMS: 12, CreatedAt: base},
		{ID: "2", SourceID: "owid", QueryType: "ranking", QueryJSON: "{}", Status: models.QueryStatusError, ErrorText: "boom", CreatedAt: base.Add(time.Second)},
		{ID: "3", SourceID: "worldbank", QueryType: "snapshot", QueryJSON: "{}", Status: models.QueryStatusOK, CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range records {
		if err := c.InsertQueryRecord(ctx, &records[i]); err != nil {
			t.Fatalf("InsertQueryRecord: %v", err)
		}
	}

	all, err := c.GetQueryHistory(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "3" {
		t.Fatalf("history = %+v", all)
	}

	wb, err := c.GetQueryHistory(ctx, "worldbank", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(wb) != 1 || wb[0].ID != "3" {
		t.Errorf("filtered history = %+v", wb)
	}

	owid, _ := c.GetQueryHistory(ctx, "owid", 10)
	if len(owid) != 1 || owid[0].Status != models.QueryStatusError || owid[0].ErrorText != "boom" {
		t.Errorf("owid history = %+v", owid)
	}
}
