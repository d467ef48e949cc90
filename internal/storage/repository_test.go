package storage

import (
	"context"
	"strings"
	"testing"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s did not panic", name)
		}
	}()
	fn()
}

func TestRegister_Validations(t *testing.T) {
	t.Parallel()

	ok := func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil }

	mustPanic(t, "empty kind", func() { Register("", ok) })
	mustPanic(t, "nil factory", func() { Register("reg-test-nil", nil) })

	Register("reg-test-dup", ok)
	mustPanic(t, "duplicate kind", func() { Register("reg-test-dup", ok) })
}

func TestNew_RoutesToFactory(t *testing.T) {
	t.Parallel()

	var got Config
	Register("reg-test-route", func(ctx context.Context, cfg Config) (Repository, error) {
		got = cfg
		return nil, nil
	})

	cfg := Config{Kind: "reg-test-route", DSN: "somewhere"}
	if _, err := New(context.Background(), cfg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if got != cfg {
		t.Fatalf("factory saw %+v, want %+v", got, cfg)
	}
}

func TestNew_UnknownKind(t *testing.T) {
	t.Parallel()

	Register("reg-test-known", func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })

	_, err := New(context.Background(), Config{Kind: "reg-test-ghost"})
	if err == nil {
		t.Fatal("New accepted an unknown kind")
	}
	if !strings.Contains(err.Error(), "reg-test-ghost") || !strings.Contains(err.Error(), "reg-test-known") {
		t.Errorf("error %q does not name the kind and the known backends", err)
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("New accepted an empty kind")
	}
}

func TestKinds_Sorted(t *testing.T) {
	t.Parallel()

	Register("reg-test-zz", func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })
	Register("reg-test-aa", func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })

	kinds := Kinds()
	for i := 1; i < len(kinds); i++ {
		if kinds[i-1] >= kinds[i] {
			t.Fatalf("kinds not sorted: %v", kinds)
		}
	}
}
