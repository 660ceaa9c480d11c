package orm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

type Flower struct {
	ID     string `shelf:"_id,primary"`
	Type   string `shelf:"type"`
	Petals int
}

type Pot struct {
	ID      string             `shelf:"_id,primary"`
	Name    string             `shelf:"name"`
	Flowers Collection[Flower] `shelf:"flowers,nullable"`
	Note    string             `shelf:"-"`
}

// legacyPot is Pot before it had flowers.
type legacyPot struct {
	ID   string `shelf:"_id,primary"`
	Name string `shelf:"name"`
}

func (legacyPot) EntityName() string { return "Pot" }

// testOptions returns options for an ORM on a fresh SQLite directory.
func testOptions(t *testing.T, entities ...any) Options {
	t.Helper()
	if len(entities) == 0 {
		entities = []any{Pot{}, Flower{}}
	}
	return Options{
		ClientURL: "sqlite://" + t.TempDir(),
		DBName:    "test_db",
		Entities:  entities,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// setupORM initializes an ORM and closes it on cleanup.
func setupORM(t *testing.T, opts Options) *ORM {
	t.Helper()
	o, err := Init(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o
}

// rawCollection returns the store collection behind an entity name.
func rawCollection(t *testing.T, o *ORM, name string) types.Collection {
	t.Helper()
	c, err := o.store.Collection(name)
	require.NoError(t, err)
	return c
}

// bufferLogger returns a debug-level text logger writing into a buffer.
func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
