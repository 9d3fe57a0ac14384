package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src/pkg/arrowconv"
)

var personSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

func personBatch(t *testing.T, mem memory.Allocator, ids ...int64) arrow.Record {
	t.Helper()

	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id, fmt.Sprintf("p%d", id)}
	}
	rec, err := arrowconv.BuildRecord(mem, personSchema, rows)
	require.NoError(t, err)
	return rec
}

func newRegistry() *Registry {
	return New(zap.NewNop().Sugar())
}

func TestRegisterLookupUnregister(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	r := newRegistry()

	id, err := r.Register(personSchema, []arrow.Record{personBatch(t, mem, 1, 2), personBatch(t, mem, 3)})
	require.NoError(t, err)
	assert.Contains(t, id, IDPrefix)

	schema, records, ok := r.Lookup(id)
	require.True(t, ok)
	assert.True(t, schema.Equal(personSchema))
	assert.Len(t, records, 2)

	require.True(t, r.Unregister(id))
	mem.AssertSize(t, 0)

	require.False(t, r.Unregister(id), "second unregister is a no-op")
	mem.AssertSize(t, 0)

	_, _, ok = r.Lookup(id)
	assert.False(t, ok)
}

func TestAcquireOutlivesUnregister(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	r := newRegistry()

	id, err := r.Register(personSchema, []arrow.Record{personBatch(t, mem, 1)})
	require.NoError(t, err)

	_, records, err := r.Acquire(id)
	require.NoError(t, err)

	r.Unregister(id)
	assert.Positive(t, mem.CurrentAlloc())
	assert.EqualValues(t, 1, records[0].NumRows())

	for _, rec := range records {
		rec.Release()
	}
	mem.AssertSize(t, 0)

	_, _, err = r.Acquire(id)
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestIDsAreUnique(t *testing.T) {
	r1, r2 := newRegistry(), newRegistry()

	var (
		mu  sync.Mutex
		ids = map[string]struct{}{}
		wg  sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(r *Registry) {
			defer wg.Done()
			id, err := r.Register(personSchema, nil)
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}([]*Registry{r1, r2}[i%2])
	}
	wg.Wait()

	assert.Len(t, ids, 32)
	assert.Equal(t, 32, r1.Len()+r2.Len())
}

func TestRegisterRejectsForeignSchema(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	other := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
	rec := personBatch(t, mem, 1)
	defer rec.Release()

	_, err := newRegistry().Register(other, []arrow.Record{rec})
	require.ErrorIs(t, err, ErrInvalidBatch)
}

func TestClose(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	r := newRegistry()

	_, err := r.Register(personSchema, []arrow.Record{personBatch(t, mem, 1)})
	require.NoError(t, err)

	r.Close()
	mem.AssertSize(t, 0)
	assert.Zero(t, r.Len())

	_, err = r.Register(personSchema, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestLocation(t *testing.T) {
	loc := Location("arrow_7")
	assert.Equal(t, "arrow://arrow_7", loc)

	id, ok := ParseLocation(loc)
	require.True(t, ok)
	assert.Equal(t, "arrow_7", id)

	_, ok = ParseLocation("parquet:///tmp/x.parquet")
	assert.False(t, ok)
}
