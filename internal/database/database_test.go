package database

import (
	"path/filepath"
	"testing"
)

func TestSetGetAndUpsert(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, ok, err := db.Get("active_fps"); err != nil || ok {
		t.Fatalf("Get() on unset key = (ok=%v, err=%v), want ok=false", ok, err)
	}

	if err := db.Set("active_fps", "4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := db.Get("active_fps")
	if err != nil || !ok || v != "4" {
		t.Fatalf("Get() = (%q, %v, %v), want (\"4\", true, nil)", v, ok, err)
	}

	if err := db.Set("active_fps", "8"); err != nil {
		t.Fatalf("Set (upsert): %v", err)
	}
	v, _, _ = db.Get("active_fps")
	if v != "8" {
		t.Fatalf("Get() after upsert = %q, want \"8\"", v)
	}
}

func TestAllReturnsEveryStoredSetting(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db.Set("active_fps", "4")
	db.Set("rest_fps", "1")

	all, err := db.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if all["active_fps"] != "4" || all["rest_fps"] != "1" {
		t.Fatalf("All() = %v, want both keys populated", all)
	}
}
