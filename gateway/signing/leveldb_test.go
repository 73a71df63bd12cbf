package signing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLevelDBNonceLogSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces")
	store, err := OpenLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body := []byte("{}")
	v := newVerifier(t, WithNonceLog(store))
	if _, err := v.Verify(signedRequest("https://gw.test/v1/calls", testNow.Unix(), "restart", body), body); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	warm := newVerifier(t, WithNonceLog(reopened))
	if err := warm.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if warm.window("partner").len() != 1 {
		t.Fatalf("expected warmed nonce window")
	}
	if _, err := warm.Verify(signedRequest("https://gw.test/v1/calls", testNow.Unix(), "restart", body), body); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected replay after restart, got %v", err)
	}

	cold := newVerifier(t, WithNonceLog(reopened))
	if _, err := cold.Verify(signedRequest("https://gw.test/v1/calls", testNow.Unix(), "restart", body), body); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected persisted nonce to be rejected, got %v", err)
	}
}

func TestLevelDBNonceLogPrune(t *testing.T) {
	store, err := OpenLevelDB(filepath.Join(t.TempDir(), "nonces"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	old := NonceRecord{APIKey: "partner", Timestamp: "1", Nonce: "old", ObservedAt: testNow.Add(-time.Hour)}
	fresh := NonceRecord{APIKey: "partner", Timestamp: "2", Nonce: "fresh", ObservedAt: testNow}
	for _, rec := range []NonceRecord{old, fresh} {
		if seen, err := store.Remember(ctx, rec); err != nil || seen {
			t.Fatalf("remember %s: seen=%v err=%v", rec.Nonce, seen, err)
		}
	}
	if err := store.Prune(ctx, testNow.Add(-time.Minute)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	records, err := store.Since(ctx, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(records) != 1 || records[0].Nonce != "fresh" {
		t.Fatalf("expected only the fresh nonce, got %+v", records)
	}
	if seen, err := store.Remember(ctx, old); err != nil || seen {
		t.Fatalf("expected pruned nonce to be forgotten, seen=%v err=%v", seen, err)
	}
}
