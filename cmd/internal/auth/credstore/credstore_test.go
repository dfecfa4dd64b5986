package credstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lexion/cmd/internal/auth/session"
	"lexion/cmd/security/seal"
)

func exerciseStore(t *testing.T, st session.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.Load(ctx); !errors.Is(err, session.ErrNoCredential) {
		t.Fatalf("Load on empty store err = %v, want ErrNoCredential", err)
	}
	if err := st.Delete(ctx); err != nil {
		t.Fatalf("Delete on empty store: %v", err)
	}

	if err := st.Save(ctx, "tok-1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, err := st.Load(ctx); err != nil || got != "tok-1" {
		t.Fatalf("Load = %q, %v; want tok-1", got, err)
	}

	if err := st.Save(ctx, "tok-2"); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	if got, _ := st.Load(ctx); got != "tok-2" {
		t.Fatalf("Load after overwrite = %q, want tok-2", got)
	}

	if err := st.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Load(ctx); !errors.Is(err, session.ErrNoCredential) {
		t.Fatalf("Load after Delete err = %v, want ErrNoCredential", err)
	}
}

func TestMemory(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemory())
}

func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "credential")
	st, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	exerciseStore(t, st)
}

func TestFile_Permissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credential")
	st, _ := NewFile(path)
	if err := st.Save(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

func TestNewFile_RequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := NewFile("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	st, err := OpenSQLite(filepath.Join(t.TempDir(), "lexion.db"), "")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	exerciseStore(t, st)
}

func TestSQLite_SlotsAreIndependent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexion.db")
	a, err := OpenSQLite(path, "a")
	if err != nil {
		t.Fatalf("OpenSQLite a: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := OpenSQLite(path, "b")
	if err != nil {
		t.Fatalf("OpenSQLite b: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	if err := a.Save(ctx, "tok-a"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := b.Load(ctx); !errors.Is(err, session.ErrNoCredential) {
		t.Fatalf("slot b sees slot a: %v", err)
	}
}

func testSealer(t *testing.T, pass string) *seal.Sealer {
	t.Helper()
	s, err := seal.New(pass, seal.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16})
	if err != nil {
		t.Fatalf("seal.New: %v", err)
	}
	return s
}

func TestSealed_RoundTripAndAtRest(t *testing.T) {
	t.Parallel()

	inner := NewMemory()
	st := NewSealed(inner, testSealer(t, "k1"), true)
	exerciseStore(t, st)

	ctx := context.Background()
	if err := st.Save(ctx, "tok-1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := inner.Load(ctx)
	if !seal.IsSealed(raw) || strings.Contains(raw, "tok-1") {
		t.Fatalf("inner store holds plaintext: %q", raw)
	}
}

func TestSealed_Policy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("plaintext_accepted_when_not_required", func(t *testing.T) {
		inner := NewMemory()
		_ = inner.Save(ctx, "legacy")
		got, err := NewSealed(inner, testSealer(t, "k"), false).Load(ctx)
		if err != nil || got != "legacy" {
			t.Fatalf("Load = %q, %v", got, err)
		}
	})

	t.Run("plaintext_rejected_when_required", func(t *testing.T) {
		inner := NewMemory()
		_ = inner.Save(ctx, "legacy")
		if _, err := NewSealed(inner, testSealer(t, "k"), true).Load(ctx); !errors.Is(err, ErrUnsealedRejected) {
			t.Fatalf("err = %v, want ErrUnsealedRejected", err)
		}
	})

	t.Run("sealed_without_key", func(t *testing.T) {
		inner := NewMemory()
		_ = NewSealed(inner, testSealer(t, "k"), false).Save(ctx, "tok-1")
		if _, err := NewSealed(inner, nil, false).Load(ctx); !errors.Is(err, ErrSealedWithoutKey) {
			t.Fatalf("err = %v, want ErrSealedWithoutKey", err)
		}
	})

	t.Run("wrong_key", func(t *testing.T) {
		inner := NewMemory()
		_ = NewSealed(inner, testSealer(t, "k1"), false).Save(ctx, "tok-1")
		if _, err := NewSealed(inner, testSealer(t, "k2"), false).Load(ctx); !errors.Is(err, seal.ErrOpenFailed) {
			t.Fatalf("err = %v, want seal.ErrOpenFailed", err)
		}
	})
}
