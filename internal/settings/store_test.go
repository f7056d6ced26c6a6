package settings

import (
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func strPtr(s string) *string   { return &s }
func boolPtr(b bool) *bool      { return &b }
func toolsPtr(t []string) *[]string { return &t }

func TestGetAbsent(t *testing.T) {
	store := newTestStore(t)
	set, err := store.Get("nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if set != nil {
		t.Errorf("expected nil for absent user, got %+v", set)
	}
}

func TestUpsertLazyCreateDefaults(t *testing.T) {
	store := newTestStore(t)

	set, err := store.Upsert("pierre", Update{DisplayName: strPtr("Pierre")})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if set.Timezone != DefaultTimezone {
		t.Errorf("timezone = %q, want %q", set.Timezone, DefaultTimezone)
	}
	if !reflect.DeepEqual(set.EnabledTools, DefaultEnabledTools()) {
		t.Errorf("enabled tools = %v", set.EnabledTools)
	}
	if set.BriefingEnabled {
		t.Error("briefing should default off")
	}
	if set.DisplayName != "Pierre" {
		t.Errorf("display name = %q", set.DisplayName)
	}
}

func TestUpsertPartial(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Upsert("pierre", Update{
		DisplayName: strPtr("Pierre"),
		Timezone:    strPtr("Europe/Paris"),
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// A partial update must not clobber fields it does not mention.
	set, err := store.Upsert("pierre", Update{BriefingEnabled: boolPtr(true)})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if set.DisplayName != "Pierre" || set.Timezone != "Europe/Paris" {
		t.Errorf("partial update clobbered fields: %+v", set)
	}
	if !set.BriefingEnabled {
		t.Error("briefing flag not applied")
	}

	got, err := store.Get("pierre")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Timezone != "Europe/Paris" || !got.BriefingEnabled {
		t.Errorf("persisted record wrong: %+v", got)
	}
}

func TestResolveDefaults(t *testing.T) {
	store := newTestStore(t)

	res, err := store.Resolve("ghost")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", res.Timezone)
	}
	if res.DisplayName != "" || len(res.EnabledTools) != 0 || res.BriefingEnabled {
		t.Errorf("expected neutral defaults, got %+v", res)
	}
}

func TestResolveExisting(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Upsert("pierre", Update{
		EnabledTools:   toolsPtr([]string{"memory"}),
		PreferredModel: strPtr("claude-haiku-4"),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := store.Resolve("pierre")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(res.EnabledTools, []string{"memory"}) {
		t.Errorf("enabled tools = %v", res.EnabledTools)
	}
	if res.PreferredModel != "claude-haiku-4" {
		t.Errorf("model = %q", res.PreferredModel)
	}
}

func TestListBriefingEnabled(t *testing.T) {
	store := newTestStore(t)
	for _, u := range []string{"carol", "alice", "bob"} {
		if _, err := store.Upsert(u, Update{}); err != nil {
			t.Fatalf("Upsert %s: %v", u, err)
		}
	}
	for _, u := range []string{"carol", "alice"} {
		if _, err := store.Upsert(u, Update{BriefingEnabled: boolPtr(true)}); err != nil {
			t.Fatalf("enable %s: %v", u, err)
		}
	}

	users, err := store.ListBriefingEnabled()
	if err != nil {
		t.Fatalf("ListBriefingEnabled: %v", err)
	}
	if !reflect.DeepEqual(users, []string{"alice", "carol"}) {
		t.Errorf("users = %v", users)
	}
}
