package processor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
)

func TestScanNodeTable(t *testing.T) {
	g := newPersonKnows(t)

	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, collectPersonIDs(t, g.ctx(), g.scanPersons()))
	assert.Equal(t, []any{int64(2)}, collectPersonIDs(t, g.ctx(), g.scanPersons(idEq(2))))
	assert.Empty(t, collectPersonIDs(t, g.ctx(), g.scanPersons(idEq(9))))
}

func TestScanRelTableChildMode(t *testing.T) {
	g := newPersonKnows(t)
	ctx := g.ctx()

	child := g.scanPersons(idEq(1))
	nbr := common.NewVector(common.TypeInternalID)
	scan := NewScanRelTable(
		ScanRelTableInfo{Table: g.knows, ColumnIDs: []storage.ColumnID{storage.NbrIDColumnID}, Direction: common.ExtendFWD},
		child,
		child.NodeIDs(),
		[]*common.Vector{nbr},
	)

	var nbrs []common.NodeID
	require.NoError(t, Drain(ctx, scan, func() error {
		nbrs = append(nbrs, nbr.NodeIDs()...)
		return nil
	}))
	assert.ElementsMatch(t, []common.NodeID{person(1), person(2)}, nbrs)

	more, err := scan.Next(ctx)
	require.NoError(t, err)
	assert.False(t, more, "exhausted scans stay exhausted")
}

func TestScanRelTableSourceMode(t *testing.T) {
	g := newPersonKnows(t)

	assert.ElementsMatch(t,
		[][2]common.NodeID{{person(0), person(1)}, {person(0), person(2)}},
		collectRels(t, g.ctx(), g, common.ExtendFWD),
	)
	assert.ElementsMatch(t,
		[][2]common.NodeID{{person(1), person(0)}, {person(2), person(0)}},
		collectRels(t, g.ctx(), g, common.ExtendBWD),
	)
}

func TestCountRelTable(t *testing.T) {
	tests := []struct {
		name string
		dir  common.ExtendDirection
		from int64
		want int64
	}{
		{"fwd from 1", common.ExtendFWD, 1, 2},
		{"both resolves to fwd", common.ExtendBoth, 1, 2},
		{"bwd from 1", common.ExtendBWD, 1, 0},
		{"bwd from 2", common.ExtendBWD, 2, 1},
		{"fwd from 3", common.ExtendFWD, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newPersonKnows(t)
			ctx := g.ctx()
			ctx.Metrics = NewMetrics(prometheus.NewRegistry())

			child := g.scanPersons(idEq(tt.from))
			count := NewCountRelTable(child, child.NodeIDs(), []storage.RelTable{g.knows}, tt.dir)
			require.NoError(t, count.Init(ctx))

			more, err := count.Next(ctx)
			require.NoError(t, err)
			require.True(t, more)
			assert.Equal(t, []any{tt.want}, count.Count().Values())

			more, err = count.Next(ctx)
			require.NoError(t, err)
			assert.False(t, more, "count emits a single row")

			assert.InDelta(t, 1, testutil.ToFloat64(ctx.Metrics.OutputTuples.WithLabelValues(opCountRelTable)), 0)
		})
	}
}

func TestCountRelTableAcrossTables(t *testing.T) {
	g := newPersonKnows(t)
	ctx := g.ctx()

	// every Person is a bound node; the same table listed twice counts twice
	child := g.scanPersons()
	count := NewCountRelTable(child, child.NodeIDs(), []storage.RelTable{g.knows, g.knows}, common.ExtendFWD)
	require.NoError(t, Drain(ctx, count, nil))
	assert.Equal(t, []any{int64(4)}, count.Count().Values())
}

func TestUnwindDedup(t *testing.T) {
	key := common.NewVector(common.TypeInt64)
	src := &vectorSource{out: key, batches: [][]any{
		{int64(1), int64(2), int64(1)},
		{int64(2), int64(2)},
		{},
		{nil, int64(3), nil, int64(1)},
	}}

	op := NewUnwindDedup(src, key)
	ctx := NewExecutionContext(nil)

	var got [][]any
	require.NoError(t, Drain(ctx, op, func() error {
		got = append(got, key.Values())
		return nil
	}))
	assert.Equal(t, [][]any{{int64(1), int64(2)}, {nil, int64(3)}}, got)
}

func TestUnwindDedupCompactsCompanions(t *testing.T) {
	key := common.NewVector(common.TypeString)
	payload := common.NewVector(common.TypeInt64)
	src := &vectorSource{out: key, batches: [][]any{{"a", "b", "a", "c"}}}

	fill := &fillCompanion{child: src, key: key, out: payload}
	op := NewUnwindDedup(fill, key, payload)
	require.NoError(t, Drain(NewExecutionContext(nil), op, nil))

	assert.Equal(t, []any{"a", "b", "c"}, key.Values())
	assert.Equal(t, []any{int64(0), int64(1), int64(3)}, payload.Values())
}

// fillCompanion writes the row position of every key into out.
type fillCompanion struct {
	child Operator
	key   *common.Vector
	out   *common.Vector
}

func (f *fillCompanion) Init(ctx *ExecutionContext) error {
	return f.child.Init(ctx)
}

func (f *fillCompanion) Next(ctx *ExecutionContext) (bool, error) {
	more, err := f.child.Next(ctx)
	if err != nil || !more {
		return more, err
	}
	f.out.Reset()
	for i := range f.key.Len() {
		f.out.Append(int64(i))
	}
	return true, nil
}
