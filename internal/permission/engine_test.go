package permission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/frostr/iglood/internal/protocol"
	"github.com/frostr/iglood/internal/storage"
)

func TestRuleSetPrecedence(t *testing.T) {
	t.Parallel()

	set := NewRuleSet([]Rule{
		{Caller: "com.example.app", Operation: protocol.OpSignEvent, Kind: protocol.KindNone, Allow: true},
		{Caller: "com.example.app", Operation: protocol.OpSignEvent, Kind: 4, Allow: false},
	})

	// Exact kind match wins over the wildcard.
	if d := set.Check("com.example.app", protocol.OpSignEvent, 4); d != Denied {
		t.Errorf("kind 4 should hit the exact deny rule, got %s", d)
	}
	// Other kinds fall through to the wildcard allow.
	if d := set.Check("com.example.app", protocol.OpSignEvent, 1); d != Allowed {
		t.Errorf("kind 1 should hit the wildcard allow rule, got %s", d)
	}
	// Different operation or caller: no rule at all.
	if d := set.Check("com.example.app", protocol.OpNIP04Decrypt, protocol.KindNone); d != Undetermined {
		t.Errorf("unmatched operation should be undetermined, got %s", d)
	}
	if d := set.Check("com.other.app", protocol.OpSignEvent, 1); d != Undetermined {
		t.Errorf("unmatched caller should be undetermined, got %s", d)
	}
}

func TestRuleSetWildcardOnlyForKindedLookups(t *testing.T) {
	t.Parallel()

	set := NewRuleSet([]Rule{
		{Caller: "app", Operation: protocol.OpGetPublicKey, Kind: protocol.KindNone, Allow: true},
	})
	if d := set.Check("app", protocol.OpGetPublicKey, protocol.KindNone); d != Allowed {
		t.Errorf("kindless lookup should match the kindless rule, got %s", d)
	}
}

func TestEngineReloadPicksUpPersistedDecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "perm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewRuleStore(db)
	eng, err := NewEngine(ctx, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if d := eng.Check("app", protocol.OpSignEvent, 1); d != Undetermined {
		t.Fatalf("fresh store should be undetermined, got %s", d)
	}

	// Authorization collaborator persists an allow, then the router reloads.
	rule := Rule{Caller: "app", Operation: protocol.OpSignEvent, Kind: protocol.KindNone, Allow: true}
	if err := store.Put(ctx, rule); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := eng.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if d := eng.Check("app", protocol.OpSignEvent, 1); d != Allowed {
		t.Errorf("expected allowed after reload, got %s", d)
	}
}

func TestRuleStoreUpsertReplacesDecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "perm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewRuleStore(db)
	rule := Rule{Caller: "app", Operation: protocol.OpNIP44Encrypt, Kind: protocol.KindNone, Allow: true}
	if err := store.Put(ctx, rule); err != nil {
		t.Fatalf("Put allow: %v", err)
	}
	rule.Allow = false
	if err := store.Put(ctx, rule); err != nil {
		t.Fatalf("Put deny: %v", err)
	}

	rules, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule after upsert, got %d", len(rules))
	}
	if rules[0].Allow {
		t.Error("upsert should have replaced allow with deny")
	}
}

func TestRuleStoreRejectsEmptyTuple(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "perm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewRuleStore(db)
	if err := store.Put(ctx, Rule{Operation: protocol.OpSignEvent}); err == nil {
		t.Error("expected error for empty caller")
	}
	if err := store.Put(ctx, Rule{Caller: "app"}); err == nil {
		t.Error("expected error for empty operation")
	}
}
