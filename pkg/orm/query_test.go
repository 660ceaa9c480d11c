package orm

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// seedGarden stores four flowers and two pots: p1 holds f1 and f2, p2
// holds f3.
func seedGarden(t *testing.T, o *ORM) {
	t.Helper()
	ctx := context.Background()
	em := o.Fork()
	f1 := &Flower{ID: "f1", Type: "Rose", Petals: 5}
	f2 := &Flower{ID: "f2", Type: "Tulip", Petals: 6}
	f3 := &Flower{ID: "f3", Type: "Rose", Petals: 8}
	f4 := &Flower{ID: "f4", Type: "Daisy", Petals: 21}
	p1 := &Pot{ID: "p1", Name: "Terracotta"}
	p1.Flowers.Set(f1, f2)
	p2 := &Pot{ID: "p2", Name: "Glazed"}
	p2.Flowers.Set(f3)
	require.NoError(t, em.Persist(f1, f2, f3, f4, p1, p2))
	require.NoError(t, em.Flush(ctx))
}

func flowerIDs(fs []*Flower) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	seedGarden(t, o)

	tests := []struct {
		name   string
		filter types.Filter
		opts   []FindOption
		want   []string
	}{
		{"all", nil, nil, []string{"f1", "f2", "f3", "f4"}},
		{"by property", types.Filter{"type": "Rose"}, nil, []string{"f1", "f3"}},
		{"by primary key", types.Filter{"_id": "f2"}, nil, []string{"f2"}},
		{"by _id list", types.Filter{"_id": []string{"f4", "f1"}}, nil, []string{"f1", "f4"}},
		{"numeric property", types.Filter{"petals": 21}, nil, []string{"f4"}},
		{"no match", types.Filter{"type": "Orchid"}, nil, []string{}},
		{"order desc", nil, []FindOption{OrderBy("petals", true)}, []string{"f4", "f3", "f2", "f1"}},
		{"limit", nil, []FindOption{Limit(2)}, []string{"f1", "f2"}},
		{"offset", nil, []FindOption{Offset(3)}, []string{"f4"}},
		{"paged and ordered", nil, []FindOption{OrderBy("petals", false), Offset(1), Limit(2)}, []string{"f2", "f3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Find[Flower](ctx, o.Fork(), tt.filter, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, flowerIDs(got))
		})
	}
}

func TestFind_Errors(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	em := o.Fork()

	_, err := Find[Flower](ctx, em, types.Filter{"colour": "red"})
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = Find[Flower](ctx, em, nil, OrderBy("colour", false))
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = Find[Pot](ctx, em, nil, Populate("roots"))
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = Find[legacyPot](ctx, em, nil)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = Find[Flower](ctx, em, nil, Limit(-1))
	assert.ErrorIs(t, err, types.ErrInvalidFilter)
}

func TestFind_Populate(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	seedGarden(t, o)

	for _, populate := range []string{"flowers", "*"} {
		t.Run(populate, func(t *testing.T) {
			em := o.Fork()
			pots, err := Find[Pot](ctx, em, nil, OrderBy("name", false), Populate(populate))
			require.NoError(t, err)
			require.Len(t, pots, 2)

			assert.Equal(t, "Glazed", pots[0].Name)
			require.True(t, pots[0].Flowers.IsInitialized())
			items, err := pots[0].Flowers.Items()
			require.NoError(t, err)
			assert.Equal(t, []string{"f3"}, flowerIDs(items))

			items, err = pots[1].Flowers.Items()
			require.NoError(t, err)
			assert.Equal(t, []string{"f1", "f2"}, flowerIDs(items))
		})
	}

	em := o.Fork()
	pots, err := Find[Pot](ctx, em, nil)
	require.NoError(t, err)
	for _, p := range pots {
		assert.False(t, p.Flowers.IsInitialized(), "relations stay lazy without Populate")
		_, err := p.Flowers.Count()
		assert.ErrorIs(t, err, ErrNotInitialized)
	}
}

func TestResolve_BatchesMembershipQueries(t *testing.T) {
	prev := resolveBatchSize
	resolveBatchSize = 2
	t.Cleanup(func() { resolveBatchSize = prev })

	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	seedGarden(t, o)

	em := o.Fork()
	var all []*Flower
	for _, id := range []string{"f1", "f2", "f3", "f4"} {
		f, err := FindByID[Flower](ctx, em, id)
		require.NoError(t, err)
		all = append(all, f)
	}
	p3 := &Pot{ID: "p3", Name: "Stone"}
	p3.Flowers.Set(all...)
	require.NoError(t, em.Persist(p3))
	require.NoError(t, em.Flush(ctx))

	flowerFinds := func() float64 {
		return testutil.ToFloat64(o.metrics.queries.WithLabelValues("flower", "find"))
	}

	t.Run("init", func(t *testing.T) {
		em := o.Fork()
		pot, err := FindByID[Pot](ctx, em, "p3")
		require.NoError(t, err)

		before := flowerFinds()
		require.NoError(t, pot.Flowers.Init(ctx))
		assert.Equal(t, 2.0, flowerFinds()-before)

		items, err := pot.Flowers.Items()
		require.NoError(t, err)
		assert.Equal(t, []string{"f1", "f2", "f3", "f4"}, flowerIDs(items))
	})

	t.Run("populate", func(t *testing.T) {
		em := o.Fork()
		before := flowerFinds()
		pots, err := Find[Pot](ctx, em, nil, OrderBy("name", false), Populate("flowers"))
		require.NoError(t, err)
		require.Len(t, pots, 3)
		assert.Equal(t, 2.0, flowerFinds()-before)

		want := map[string][]string{
			"p1": {"f1", "f2"},
			"p2": {"f3"},
			"p3": {"f1", "f2", "f3", "f4"},
		}
		for _, p := range pots {
			items, err := p.Flowers.Items()
			require.NoError(t, err)
			assert.Equal(t, want[p.ID], flowerIDs(items), p.ID)
		}
	})
}

func TestFind_PopulateSharesMembers(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	em := o.Fork()
	shared := &Flower{ID: "shared"}
	a := &Pot{ID: "a"}
	b := &Pot{ID: "b"}
	a.Flowers.Set(shared)
	b.Flowers.Set(shared)
	require.NoError(t, em.Persist(a, b))
	require.NoError(t, em.Flush(ctx))

	read := o.Fork()
	pots, err := Find[Pot](ctx, read, nil, Populate("flowers"))
	require.NoError(t, err)
	require.Len(t, pots, 2)
	first, err := pots[0].Flowers.Items()
	require.NoError(t, err)
	second, err := pots[1].Flowers.Items()
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	seedGarden(t, o)
	em := o.Fork()

	f, err := FindOne[Flower](ctx, em, types.Filter{"type": "Rose"}, OrderBy("petals", true))
	require.NoError(t, err)
	assert.Equal(t, "f3", f.ID)

	_, err = FindOne[Flower](ctx, em, types.Filter{"type": "Orchid"})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestFindByID(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	seedGarden(t, o)
	em := o.Fork()

	p, err := FindByID[Pot](ctx, em, "p1", Populate("flowers"))
	require.NoError(t, err)
	assert.Equal(t, "Terracotta", p.Name)
	n, err := p.Flowers.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = FindByID[Pot](ctx, em, "missing")
	assert.ErrorIs(t, err, ErrEntityNotFound)
	_, err = FindByID[Pot](ctx, em, "")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	seedGarden(t, o)
	em := o.Fork()

	n, err := Count[Flower](ctx, em, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = Count[Flower](ctx, em, types.Filter{"type": "Rose"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, em.Persist(&Flower{Type: "Rose"}))
	n, err = Count[Flower](ctx, em, types.Filter{"type": "Rose"})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "pending inserts are not counted")

	_, err = Count[Flower](ctx, em, types.Filter{"colour": "red"})
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestAssign(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	seedGarden(t, o)
	em := o.Fork()

	rose := &Flower{Type: "Rose"}
	tulip := &Flower{Type: "Tulip"}
	pot := &Pot{}
	require.NoError(t, Assign(em, pot, map[string]any{
		"name":    "NewPot",
		"flowers": []*Flower{rose, tulip},
	}))
	assert.Equal(t, "NewPot", pot.Name)
	n, err := pot.Flowers.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	byID := &Pot{}
	require.NoError(t, Assign(em, byID, map[string]any{"flowers": []string{"f1", "missing", "f4"}}))
	assert.False(t, byID.Flowers.IsInitialized())
	require.NoError(t, byID.Flowers.Init(ctx), "assigned collections are bound before Persist")
	items, err := byID.Flowers.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f4"}, flowerIDs(items))

	require.NoError(t, em.Persist(pot, byID))
	require.NoError(t, em.Flush(ctx))
	doc, err := rawCollection(t, o, "pot").Get(ctx, pot.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{rose.ID, tulip.ID}, doc["flowers"])

	flower := &Flower{}
	require.NoError(t, Assign(em, flower, map[string]any{"_id": "custom", "petals": 7.0}))
	assert.Equal(t, Flower{ID: "custom", Petals: 7}, *flower)
}

func TestAssign_Errors(t *testing.T) {
	ctx := context.Background()
	o := setupORM(t, testOptions(t))
	em := o.Fork()
	managed := &Flower{ID: "f1"}
	require.NoError(t, em.Persist(managed))
	require.NoError(t, em.Flush(ctx))

	tests := []struct {
		name   string
		entity any
		data   map[string]any
		want   error
	}{
		{"unknown property", &Flower{}, map[string]any{"colour": "red"}, ErrUnknownProperty},
		{"bad property type", &Flower{}, map[string]any{"petals": "many"}, ErrInvalidAssign},
		{"bad relation value", &Pot{}, map[string]any{"flowers": 3}, ErrInvalidAssign},
		{"mixed relation value", &Pot{}, map[string]any{"flowers": []any{"f1", &Flower{}}}, ErrInvalidAssign},
		{"non-string primary", &Flower{}, map[string]any{"_id": 1}, ErrInvalidAssign},
		{"managed primary", managed, map[string]any{"_id": "f2"}, ErrImmutablePrimary},
		{"not an entity", Flower{}, map[string]any{}, ErrNotEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Assign(em, tt.entity, tt.data), tt.want)
		})
	}

	require.NoError(t, Assign(em, managed, map[string]any{"_id": "f1", "type": "Rose"}), "assigning the same primary is allowed")
	assert.Equal(t, "Rose", managed.Type)
}
