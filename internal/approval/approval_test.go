package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/frostr/iglood/internal/log"
	"github.com/frostr/iglood/internal/permission"
	"github.com/frostr/iglood/internal/protocol"
	"github.com/frostr/iglood/internal/storage"
)

func testStore(t *testing.T) *permission.RuleStore {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "iglood.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return permission.NewRuleStore(db)
}

func TestStaticPersistsBeforeAnswering(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	policy, err := NewStatic("allow", store, log.WithComponent("approval-test"))
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	req := protocol.NewRequest("", protocol.OpSignEvent, "app", 1, "{}", time.Second)
	allowed, err := policy.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !allowed {
		t.Fatal("allow policy refused")
	}

	set, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if d := set.Check("app", protocol.OpSignEvent, 1); d != permission.Allowed {
		t.Errorf("decision not persisted: %s", d)
	}
}

func TestStaticDenyPersistsRefusal(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	policy, err := NewStatic("deny", store, log.WithComponent("approval-test"))
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	req := protocol.NewRequest("", protocol.OpNIP44Encrypt, "app", protocol.KindNone, "{}", time.Second)
	allowed, err := policy.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if allowed {
		t.Fatal("deny policy approved")
	}

	set, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if d := set.Check("app", protocol.OpNIP44Encrypt, protocol.KindNone); d != permission.Denied {
		t.Errorf("refusal not persisted: %s", d)
	}
}

func TestUnknownModeRejected(t *testing.T) {
	t.Parallel()

	if _, err := NewStatic("maybe", testStore(t), log.WithComponent("approval-test")); err == nil {
		t.Fatal("unknown mode should be rejected")
	}
}
