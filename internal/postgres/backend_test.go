package postgres

import (
	"context"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// dockerAvailable reports whether a Docker daemon is reachable.
// testcontainers-go panics without one, so check first.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

// startPostgres runs a throwaway Postgres container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres container in short mode")
	}
	if !dockerAvailable() {
		t.Skip("Docker not available, skipping Postgres integration tests")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shelf"),
		tcpostgres.WithUsername("shelf"),
		tcpostgres.WithPassword("shelf"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// attach returns a Backend attached to dsn under dbName.
func attach(t *testing.T, dsn, dbName string) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendPostgres, DSN: dsn, DBName: dbName}))
	t.Cleanup(func() { _ = b.Detach() })
	return b
}

func TestBackend_Postgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	t.Run("crud", func(t *testing.T) {
		b := attach(t, dsn, "crud")
		pots, err := b.Collection("pot")
		require.NoError(t, err)

		id, err := pots.Insert(ctx, types.Document{"name": "LegacyPot1"})
		require.NoError(t, err)
		got, err := pots.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "LegacyPot1", got["name"])
		assert.Equal(t, id, got.ID())

		_, err = pots.Insert(ctx, types.Document{types.IDField: id})
		assert.ErrorIs(t, err, types.ErrDuplicateID)

		require.NoError(t, pots.Replace(ctx, id, types.Document{"name": "Renamed", "flowers": []any{"f1"}}))
		got, err = pots.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []any{"f1"}, got["flowers"])

		require.NoError(t, pots.Delete(ctx, id))
		_, err = pots.Get(ctx, id)
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.ErrorIs(t, pots.Delete(ctx, id), types.ErrNotFound)
	})

	t.Run("find", func(t *testing.T) {
		b := attach(t, dsn, "find")
		flowers, err := b.Collection("flower")
		require.NoError(t, err)
		for _, d := range []types.Document{
			{types.IDField: "f1", "type": "Rose", "petals": 5},
			{types.IDField: "f2", "type": "Tulip", "petals": 6},
			{types.IDField: "f3", "type": "Rose", "petals": 8, "color": nil},
		} {
			_, err := flowers.Insert(ctx, d)
			require.NoError(t, err)
		}

		ids := func(docs []types.Document) []string {
			out := []string{}
			for _, d := range docs {
				out = append(out, d.ID())
			}
			return out
		}

		docs, err := flowers.Find(ctx, types.Filter{"type": "Rose"}, types.FindOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"f1", "f3"}, ids(docs))

		docs, err = flowers.Find(ctx, types.Filter{"petals": 6.0}, types.FindOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"f2"}, ids(docs))

		docs, err = flowers.Find(ctx, types.Filter{"color": nil}, types.FindOptions{Desc: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"f3", "f2", "f1"}, ids(docs))

		docs, err = flowers.Find(ctx, nil, types.FindOptions{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"f2"}, ids(docs))

		n, err := flowers.Count(ctx, types.Filter{types.IDField: []string{"f1", "f2", "nope"}})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		names, err := b.Collections(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"flower"}, names)
	})

	t.Run("bulk write is all or none", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		tests := []struct {
			name    string
			ctx     context.Context
			ops     []types.WriteOp
			wantErr error
		}{
			{
				name: "replace of missing document",
				ctx:  ctx,
				ops: []types.WriteOp{
					{Kind: types.OpInsert, Collection: "flower", ID: "f1", Doc: types.Document{"type": "Rose"}},
					{Kind: types.OpReplace, Collection: "pot", ID: "missing", Doc: types.Document{}},
				},
				wantErr: types.ErrNotFound,
			},
			{
				name: "delete of missing document",
				ctx:  ctx,
				ops: []types.WriteOp{
					{Kind: types.OpReplace, Collection: "pot", ID: "p0", Doc: types.Document{"name": "renamed"}},
					{Kind: types.OpDelete, Collection: "pot", ID: "missing"},
				},
				wantErr: types.ErrNotFound,
			},
			{
				name: "duplicate insert",
				ctx:  ctx,
				ops: []types.WriteOp{
					{Kind: types.OpDelete, Collection: "pot", ID: "p0"},
					{Kind: types.OpInsert, Collection: "flower", ID: "f1", Doc: types.Document{"type": "Rose"}},
					{Kind: types.OpInsert, Collection: "flower", ID: "f1", Doc: types.Document{"type": "Tulip"}},
				},
				wantErr: types.ErrDuplicateID,
			},
			{
				name: "document that cannot be encoded",
				ctx:  ctx,
				ops: []types.WriteOp{
					{Kind: types.OpInsert, Collection: "flower", ID: "f1", Doc: types.Document{"type": "Rose"}},
					{Kind: types.OpReplace, Collection: "pot", ID: "p0", Doc: types.Document{"bad": make(chan int)}},
				},
				wantErr: types.ErrInvalidDocument,
			},
			{
				name: "cancelled context",
				ctx:  cancelled,
				ops: []types.WriteOp{
					{Kind: types.OpInsert, Collection: "flower", ID: "f1", Doc: types.Document{"type": "Rose"}},
				},
				wantErr: context.Canceled,
			},
		}

		for i, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b := attach(t, dsn, fmt.Sprintf("bulk_%d", i))
				pots, err := b.Collection("pot")
				require.NoError(t, err)
				flowers, err := b.Collection("flower")
				require.NoError(t, err)
				_, err = pots.Insert(ctx, types.Document{types.IDField: "p0", "name": "LegacyPot"})
				require.NoError(t, err)

				err = b.BulkWrite(tt.ctx, tt.ops)
				require.ErrorIs(t, err, tt.wantErr)

				n, err := flowers.Count(ctx, nil)
				require.NoError(t, err)
				assert.Zero(t, n)
				_, err = flowers.Get(ctx, "f1")
				assert.ErrorIs(t, err, types.ErrNotFound)
				got, err := pots.Get(ctx, "p0")
				require.NoError(t, err)
				assert.Equal(t, "LegacyPot", got["name"])
			})
		}
	})

	t.Run("databases are isolated", func(t *testing.T) {
		a := attach(t, dsn, "iso_a")
		z := attach(t, dsn, "iso_z")
		potsA, err := a.Collection("pot")
		require.NoError(t, err)
		_, err = potsA.Insert(ctx, types.Document{"name": "only in a"})
		require.NoError(t, err)

		potsZ, err := z.Collection("pot")
		require.NoError(t, err)
		n, err := potsZ.Count(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("data survives reattach", func(t *testing.T) {
		b := NewBackend()
		cfg := types.Config{Backend: types.BackendPostgres, DSN: dsn, DBName: "reattach"}
		require.NoError(t, b.Attach(cfg))
		pots, err := b.Collection("pot")
		require.NoError(t, err)
		id, err := pots.Insert(ctx, types.Document{"name": "kept"})
		require.NoError(t, err)
		require.NoError(t, b.Detach())
		require.NoError(t, b.Detach())

		require.NoError(t, b.Attach(cfg))
		t.Cleanup(func() { _ = b.Detach() })
		pots, err = b.Collection("pot")
		require.NoError(t, err)
		got, err := pots.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "kept", got["name"])
	})
}
