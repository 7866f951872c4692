package memstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MatejaMaric/esdb-denormalizer/memstore"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/go-test/deep"
)

type user struct {
	Username   string
	Email      string
	LoginCount int32
}

type userCreated struct {
	Username string
	Email    string
}

type userLoggedIn struct {
	Username string
}

type userDeleted struct {
	Username string
}

func newUserDenormalizer() *projections.Denormalizer[user] {
	d := projections.New[user]()

	projections.MustOn(d, projections.Action[userCreated, user]{
		Kind:   projections.AddNew,
		Inject: true,
	})

	projections.MustOn(d, projections.Action[userLoggedIn, user]{
		Kind: projections.Update,
		Keys: []projections.Key{projections.Match("Username")},
		Apply: func(e userLoggedIn, u user) (user, error) {
			u.LoginCount++
			return u, nil
		},
	})

	projections.MustOn(d, projections.Action[userDeleted, user]{
		Kind: projections.Remove,
		Keys: []projections.Key{projections.Match("Username")},
	})

	return d
}

func TestDenormalizeIntoMemory(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[user]("Username")
	d := newUserDenormalizer()

	events := []any{
		userCreated{"test", "test@test.com"},
		userCreated{"other", "other@test.com"},
		userLoggedIn{"test"},
		userLoggedIn{"test"},
		userLoggedIn{"missing"},
		userDeleted{"other"},
	}

	for _, event := range events {
		if err := d.HandleWith(ctx, event, store.Factory()); err != nil {
			t.Fatal(err)
		}
	}

	expected := []user{{"test", "test@test.com", 2}}
	if diff := deep.Equal(expected, store.All()); diff != nil {
		t.Fatalf("unexpected projections:\n%v\n", strings.Join(diff, "\n"))
	}
}

func TestInsertDuplicateKey(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[user]("Username")

	if err := store.Insert(ctx, user{Username: "test"}); err != nil {
		t.Fatal(err)
	}

	if err := store.Insert(ctx, user{Username: "test"}); !errors.Is(err, memstore.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestReadConvertsNumericFilters(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[user]()

	for _, u := range []user{{Username: "a", LoginCount: 1}, {Username: "b", LoginCount: 2}, {Username: "c", LoginCount: 2}} {
		if err := store.Insert(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	res, err := store.Read(ctx, projections.Filters{projections.Filter("LoginCount", 2)})
	if err != nil {
		t.Fatal(err)
	}

	if diff := deep.Equal([]user{{Username: "b", LoginCount: 2}, {Username: "c", LoginCount: 2}}, res); diff != nil {
		t.Fatalf("unexpected read result:\n%v\n", strings.Join(diff, "\n"))
	}

	if _, err := store.Read(ctx, projections.Filters{projections.Filter("Missing", 2)}); !errors.Is(err, projections.ErrMissingKeyField) {
		t.Fatalf("expected ErrMissingKeyField, got %v", err)
	}

	if err := store.Update(ctx, user{Username: "a"}); !errors.Is(err, memstore.ErrNoKeys) {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
}

func TestReadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[*user]("Username")

	if err := store.Insert(ctx, &user{Username: "test", Email: "test@test.com"}); err != nil {
		t.Fatal(err)
	}

	res, err := store.Read(ctx, projections.Filters{projections.Filter("Username", "test")})
	if err != nil {
		t.Fatal(err)
	}
	res[0].Email = "changed@test.com"
	store.All()[0].LoginCount = 9

	expected := []*user{{Username: "test", Email: "test@test.com"}}
	if diff := deep.Equal(expected, store.All()); diff != nil {
		t.Fatalf("unexpected projections:\n%v\n", strings.Join(diff, "\n"))
	}
}

func TestFailedApplyLeavesRecordUnchanged(t *testing.T) {
	type emailChanged struct {
		Username string
		Email    string
	}

	ctx := context.Background()
	store := memstore.New[*user]("Username")
	errRejected := errors.New("rejected")

	d := projections.New[*user]()
	projections.MustOn(d, projections.Action[emailChanged, *user]{
		Kind:   projections.Update,
		Inject: true,
		Keys:   []projections.Key{projections.Match("Username")},
		Apply: func(e emailChanged, u *user) (*user, error) {
			return nil, errRejected
		},
	})

	if err := store.Insert(ctx, &user{Username: "test", Email: "test@test.com", LoginCount: 1}); err != nil {
		t.Fatal(err)
	}

	err := d.Handle(ctx, emailChanged{Username: "test", Email: "new@test.com"}, store)
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected the apply error, got %v", err)
	}

	expected := []*user{{Username: "test", Email: "test@test.com", LoginCount: 1}}
	if diff := deep.Equal(expected, store.All()); diff != nil {
		t.Fatalf("unexpected projections:\n%v\n", strings.Join(diff, "\n"))
	}
}
