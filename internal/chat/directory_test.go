package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"chord/internal/identity"
	"chord/internal/tree"
)

func TestDirectory_RegisterAndListAll(t *testing.T) {
	t.Parallel()

	store := tree.NewMemoryStore()
	defer func() { _ = store.Close() }()
	dir := NewDirectory(testLogger(), store)
	ctx := context.Background()

	if err := dir.Register(ctx, User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@calc.org"}, "h1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := dir.Register(ctx, User{FirstName: "Grace", LastName: "Hopper", Email: "grace@navy.mil"}, "h2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	all, err := dir.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].Name != "Ada Lovelace" || all[0].Email != "ada-calc-org" {
		t.Fatalf("unexpected first entry: %+v", all[0])
	}
}

func TestDirectory_RegisterDuplicateFails(t *testing.T) {
	t.Parallel()

	store := tree.NewMemoryStore()
	defer func() { _ = store.Close() }()
	dir := NewDirectory(testLogger(), store)
	ctx := context.Background()

	u := User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@calc.org"}
	if err := dir.Register(ctx, u, "h"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := dir.Register(ctx, u, "h"); !identity.IsInvalidInput(err) {
		t.Fatalf("expected invalid_input for duplicate, got %v", err)
	}

	all, _ := dir.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("duplicate registration must not append, got %d entries", len(all))
	}
}

func TestDirectory_ConcurrentRegistrationsAllSurvive(t *testing.T) {
	t.Parallel()

	store := tree.NewMemoryStore()
	defer func() { _ = store.Close() }()
	dir := NewDirectory(testLogger(), store)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := User{
				FirstName: "User",
				LastName:  fmt.Sprintf("Number%02d", i),
				Email:     fmt.Sprintf("user%02d@example.com", i),
			}
			errs[i] = dir.Register(ctx, u, "h")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
	}
	all, err := dir.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != n {
		t.Fatalf("expected %d directory entries, got %d", n, len(all))
	}
}

func TestDirectory_Exists(t *testing.T) {
	t.Parallel()

	store := tree.NewMemoryStore()
	defer func() { _ = store.Close() }()
	dir := NewDirectory(testLogger(), store)
	ctx := context.Background()

	ok, err := dir.Exists(ctx, "ada@calc.org")
	if err != nil || ok {
		t.Fatalf("expected absent: ok=%v err=%v", ok, err)
	}

	if err := dir.Register(ctx, User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@calc.org"}, "h"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ok, err = dir.Exists(ctx, "ada@calc.org")
	if err != nil || !ok {
		t.Fatalf("expected present: ok=%v err=%v", ok, err)
	}
}

func TestDirectory_ListAllAbsentIsFetchError(t *testing.T) {
	t.Parallel()

	store := tree.NewMemoryStore()
	defer func() { _ = store.Close() }()
	dir := NewDirectory(testLogger(), store)

	if _, err := dir.ListAll(context.Background()); !identity.IsFetch(err) {
		t.Fatalf("expected fetch kind, got %v", err)
	}

	// Not map-shaped is also a fetch failure.
	if err := store.Set(context.Background(), directoryPath, []any{"oops"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := dir.ListAll(context.Background()); !identity.IsFetch(err) {
		t.Fatalf("expected fetch kind for malformed directory, got %v", err)
	}
}

func TestDirectory_Search(t *testing.T) {
	t.Parallel()

	store := tree.NewMemoryStore()
	defer func() { _ = store.Close() }()
	dir := NewDirectory(testLogger(), store)
	ctx := context.Background()

	for _, u := range []User{
		{FirstName: "Ada", LastName: "Lovelace", Email: "ada@calc.org"},
		{FirstName: "Adam", LastName: "Smith", Email: "adam@econ.org"},
		{FirstName: "Grace", LastName: "Hopper", Email: "grace@navy.mil"},
	} {
		if err := dir.Register(ctx, u, "h"); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	got, err := dir.Search(ctx, "aDa")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches for 'aDa', got %d", len(got))
	}

	got, err = dir.Search(ctx, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("empty prefix must return the full directory, got %d", len(got))
	}
}

func TestDirectory_PasswordHashAndDisplayName(t *testing.T) {
	t.Parallel()

	store := tree.NewMemoryStore()
	defer func() { _ = store.Close() }()
	dir := NewDirectory(testLogger(), store)
	ctx := context.Background()

	if _, err := dir.PasswordHash(ctx, "ada@calc.org"); !identity.IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}

	if err := dir.Register(ctx, User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@calc.org"}, "encoded-hash"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h, err := dir.PasswordHash(ctx, "ada@calc.org")
	if err != nil || h != "encoded-hash" {
		t.Fatalf("PasswordHash: %q, %v", h, err)
	}

	name, err := dir.DisplayNameOf(ctx, "ada@calc.org")
	if err != nil || name != "Ada Lovelace" {
		t.Fatalf("DisplayNameOf: %q, %v", name, err)
	}
}
