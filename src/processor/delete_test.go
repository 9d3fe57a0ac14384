package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
)

func (g *personKnows) deleteInfo() NodeTableDeleteInfo {
	return NodeTableDeleteInfo{
		Table:        g.person,
		FwdRelTables: []storage.RelTable{g.knows},
		BwdRelTables: []storage.RelTable{g.knows},
	}
}

func TestEndToEndCountThenDetachDelete(t *testing.T) {
	g := newPersonKnows(t)
	ctx := g.ctx()

	child := g.scanPersons(idEq(1))
	count := NewCountRelTable(child, child.NodeIDs(), []storage.RelTable{g.knows}, common.ExtendFWD)
	require.NoError(t, Drain(ctx, count, nil))
	require.Equal(t, []any{int64(2)}, count.Count().Values())

	victims := g.scanPersons(idEq(1))
	del := NewDelete(victims, NewSingleLabelNodeDeleteExecutor(DetachDeleteNode, victims.NodeIDs(), g.deleteInfo()))
	require.NoError(t, Drain(ctx, del, nil))

	assert.Empty(t, collectRels(t, ctx, g, common.ExtendFWD))
	assert.Empty(t, collectRels(t, ctx, g, common.ExtendBWD))
	assert.Equal(t, []any{int64(2), int64(3)}, collectPersonIDs(t, ctx, g.scanPersons()))
}

func TestDeleteWithRelsFails(t *testing.T) {
	g := newPersonKnows(t)
	ctx := g.ctx()

	victims := g.scanPersons(idEq(1))
	del := NewDelete(victims, NewSingleLabelNodeDeleteExecutor(DeleteNode, victims.NodeIDs(), g.deleteInfo()))
	err := Drain(ctx, del, nil)

	var refErr *storage.ReferentialConstraintError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "Knows", refErr.Table)
	assert.Equal(t, common.Offset(0), refErr.Offset)
	assert.Equal(t, common.FWD, refErr.Direction)
	assert.ErrorIs(t, err, storage.ErrReferentialConstraint)

	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, collectPersonIDs(t, ctx, g.scanPersons()))
}

func TestDeleteIsolatedNode(t *testing.T) {
	g := newPersonKnows(t)
	ctx := g.ctx()

	// Person 3 is only a BWD endpoint; removing its rel first makes a plain
	// delete legal.
	rels := NewSingleLabelRelDeleteExecutor(RelDeleteInfo{
		SrcNodeIDs: common.NewNodeIDVector(person(0)),
		DstNodeIDs: common.NewNodeIDVector(person(2)),
		RelIDs:     common.NewNodeIDVector(common.RelID{Offset: 1, TableID: knowsTableID}),
	}, g.knows)
	require.NoError(t, rels.Init(ctx))
	require.NoError(t, rels.Delete(ctx))

	victims := g.scanPersons(idEq(3))
	del := NewDelete(victims, NewSingleLabelNodeDeleteExecutor(DeleteNode, victims.NodeIDs(), g.deleteInfo()))
	require.NoError(t, Drain(ctx, del, nil))

	assert.Equal(t, []any{int64(1), int64(2)}, collectPersonIDs(t, ctx, g.scanPersons()))
	assert.Equal(t, [][2]common.NodeID{{person(0), person(1)}}, collectRels(t, ctx, g, common.ExtendFWD))
}

func TestMultiLabelDetachDelete(t *testing.T) {
	g := newPersonKnows(t)
	ctx := g.ctx()
	scheduler, err := NewDetachDeleteScheduler(4, nopLog)
	require.NoError(t, err)
	defer scheduler.Close()
	ctx.Scheduler = scheduler

	victims := g.scanPersons()
	del := NewDelete(victims, NewMultiLabelNodeDeleteExecutor(
		DetachDeleteNode,
		victims.NodeIDs(),
		[]NodeTableDeleteInfo{g.deleteInfo()},
	))
	require.NoError(t, Drain(ctx, del, nil))

	assert.Empty(t, collectPersonIDs(t, ctx, g.scanPersons()))
	assert.Empty(t, collectRels(t, ctx, g, common.ExtendFWD))
}

func TestMultiLabelRelDelete(t *testing.T) {
	g := newPersonKnows(t)
	ctx := g.ctx()

	e := NewMultiLabelRelDeleteExecutor(RelDeleteInfo{
		SrcNodeIDs: common.NewNodeIDVector(person(0), person(0)),
		DstNodeIDs: common.NewNodeIDVector(person(1), person(1)),
		RelIDs: common.NewNodeIDVector(
			common.RelID{Offset: 0, TableID: knowsTableID},
			common.RelID{Offset: 0, TableID: 99},
		),
	}, []storage.RelTable{g.knows})
	require.NoError(t, e.Init(ctx))
	require.ErrorIs(t, e.Delete(ctx), ErrUnknownTable)

	assert.Equal(t, [][2]common.NodeID{{person(0), person(2)}}, collectRels(t, ctx, g, common.ExtendFWD))
}
