package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(nil, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set(KeyWebhookURL, "https://example.com/hook"); err != nil {
		t.Fatalf("set: %v", err)
	}

	var url string
	found, err := s.Get(KeyWebhookURL, &url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("key not found after set")
	}
	if url != "https://example.com/hook" {
		t.Errorf("url = %q", url)
	}
}

func TestStore_MissingKey(t *testing.T) {
	s := openTestStore(t)

	var v bool
	found, err := s.Get(KeyEnableScreenshots, &v)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("missing key reported as found")
	}
}

func TestStore_Overwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set(KeyEnableNotifications, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(KeyEnableNotifications, false); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	var v bool
	found, err := s.Get(KeyEnableNotifications, &v)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if v {
		t.Error("overwrite did not take")
	}
}

func TestStore_StructuredValues(t *testing.T) {
	s := openTestStore(t)

	positions := map[string]float64{"NASDAQ:AAPL": 100, "FX:EURUSD": -50.5}
	if err := s.Set(KeySymbolPositions, positions); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got map[string]float64
	found, err := s.Get(KeySymbolPositions, &got)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if len(got) != 2 || got["NASDAQ:AAPL"] != 100 || got["FX:EURUSD"] != -50.5 {
		t.Errorf("positions = %v", got)
	}
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set(KeyIncludeTime, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(KeyIncludeTime); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var v bool
	found, err := s.Get(KeyIncludeTime, &v)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("deleted key still present")
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(KeyIncludeTime); err != nil {
		t.Errorf("delete missing key: %v", err)
	}
}
