package db_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MatejaMaric/esdb-denormalizer/db"
	"github.com/MatejaMaric/esdb-denormalizer/events"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/go-test/deep"
)

func TestNewTable(t *testing.T) {
	if _, err := db.NewTable[events.UserView]("users", "Nickname"); !errors.Is(err, db.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got: %v", err)
	}

	if _, err := db.NewTable[int]("numbers"); err == nil {
		t.Fatal("expected an error for a non-struct projection")
	}
}

func TestTableStore(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()

	table, err := db.NewTable[*events.UserView](events.UsersTable, "Username")
	if err != nil {
		t.Fatal(err)
	}

	store := table.Store(TestSqlClient)

	if err := store.Insert(ctx, &events.UserView{Username: "table_a", Email: "a@test.com"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(ctx, &events.UserView{Username: "table_b", Email: "b@test.com", LoginCount: 3}); err != nil {
		t.Fatal(err)
	}

	if err := store.Update(ctx, &events.UserView{Username: "table_a", Email: "new@test.com", LoginCount: 1}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Read(ctx, projections.Filters{projections.Filter("Username", "table_a")})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Id == 0 {
		t.Fatal("expected the database to assign an id")
	}

	expected := events.UserView{Id: got[0].Id, Username: "table_a", Email: "new@test.com", LoginCount: 1}
	if diff := deep.Equal(expected, *got[0]); diff != nil {
		t.Fatalf("unexpected row:\n%v\n", strings.Join(diff, "\n"))
	}

	if err := store.Remove(ctx, projections.Filters{projections.Filter("Username", "table_b")}); err != nil {
		t.Fatal(err)
	}

	got, err = store.Read(ctx, projections.Filters{projections.Filter("Username", "table_b")})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected table_b to be removed, got %v", got)
	}

	if err := store.Remove(ctx, nil); !errors.Is(err, projections.ErrMissingFilter) {
		t.Fatalf("expected ErrMissingFilter, got: %v", err)
	}

	_, err = store.Read(ctx, projections.Filters{projections.Filter("Nickname", "x")})
	if !errors.Is(err, db.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got: %v", err)
	}
}

func TestConnFactory(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()

	table, err := db.NewTable[*events.UserView](events.UsersTable, "Username")
	if err != nil {
		t.Fatal(err)
	}

	factory := db.ConnFactory[*events.UserView]{DB: TestSqlClient, Table: table}
	d := events.NewUserDenormalizer()

	evs := []any{
		events.CreateUserEvent{Username: "factory", Email: "factory@test.com"},
		events.LoginUserEvent{Username: "factory"},
		events.LoginUserEvent{Username: "factory"},
		events.ChangeEmailEvent{Username: "factory", Email: "changed@test.com"},
	}

	for _, ev := range evs {
		if err := d.HandleWith(ctx, ev, factory); err != nil {
			t.Fatal(err)
		}
	}

	got, err := table.Store(TestSqlClient).Read(ctx, projections.Filters{projections.Filter("Username", "factory")})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}

	expected := events.UserView{Id: got[0].Id, Username: "factory", Email: "changed@test.com", LoginCount: 2}
	if diff := deep.Equal(expected, *got[0]); diff != nil {
		t.Fatalf("unexpected projection:\n%v\n", strings.Join(diff, "\n"))
	}

	if err := d.HandleWith(ctx, events.DeleteUserEvent{Username: "factory"}, factory); err != nil {
		t.Fatal(err)
	}

	got, err = table.Store(TestSqlClient).Read(ctx, projections.Filters{projections.Filter("Username", "factory")})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected the projection to be removed, got %v", got)
	}
}
