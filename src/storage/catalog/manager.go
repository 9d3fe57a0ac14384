package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/pkg/utils"
)

// Catalog is the in-memory system catalog. It is persisted as JSON at
// checkpoints.
type Catalog struct {
	mx      sync.RWMutex
	catalog SystemCatalog
}

func New() *Catalog {
	return &Catalog{
		catalog: SystemCatalog{
			Tables:    make(map[common.TableID]*TableEntry),
			Sequences: make(map[uint64]*SequenceEntry),
			Graphs:    make(map[uint64]*GraphEntry),
		},
	}
}

// needs lock before calling
func (c *Catalog) tableByNameAssumeLocked(name string) (*TableEntry, bool) {
	for _, e := range c.catalog.Tables {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// CreateTable assigns a fresh id to entry and registers it.
func (c *Catalog) CreateTable(entry TableEntry) (*TableEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	if _, ok := c.tableByNameAssumeLocked(entry.Name); ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, entry.Name)
	}
	if entry.Type == common.RelTableEntry {
		for _, id := range []common.TableID{entry.FromTableID, entry.ToTableID} {
			src, ok := c.catalog.Tables[id]
			if !ok || src.Type != common.NodeTableEntry {
				return nil, fmt.Errorf("%w: rel table %s references node table %d", ErrTableNotFound, entry.Name, id)
			}
		}
	}

	c.catalog.LastTableID++
	entry.ID = c.catalog.LastTableID
	stored := entry.Copy()
	c.catalog.Tables[entry.ID] = stored
	return stored.Copy(), nil
}

// RestoreTable re-adds a previously dropped entry under its own id.
func (c *Catalog) RestoreTable(entry *TableEntry) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if _, ok := c.catalog.Tables[entry.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrTableExists, entry.ID)
	}
	c.catalog.Tables[entry.ID] = entry.Copy()
	c.catalog.LastTableID = max(c.catalog.LastTableID, entry.ID)
	return nil
}

func (c *Catalog) DropTable(id common.TableID) (*TableEntry, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	e, ok := c.catalog.Tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrTableNotFound, id)
	}
	if e.Type == common.NodeTableEntry {
		for _, other := range c.catalog.Tables {
			if other.Type == common.RelTableEntry && (other.FromTableID == id || other.ToTableID == id) {
				return nil, fmt.Errorf("%w: cannot drop %s, %s depends on it", ErrTableReferenced, e.Name, other.Name)
			}
		}
	}

	delete(c.catalog.Tables, id)
	return e.Copy(), nil
}

func (c *Catalog) RenameTable(id common.TableID, newName string) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	e, ok := c.catalog.Tables[id]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrTableNotFound, id)
	}
	if other, ok := c.tableByNameAssumeLocked(newName); ok && other.ID != id {
		return "", fmt.Errorf("%w: %s", ErrTableExists, newName)
	}

	old := e.Name
	e.Name = newName
	return old, nil
}

func (c *Catalog) GetTable(name string) (*TableEntry, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()

	e, ok := c.tableByNameAssumeLocked(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return e.Copy(), nil
}

func (c *Catalog) GetTableByID(id common.TableID) (*TableEntry, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()

	e, ok := c.catalog.Tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrTableNotFound, id)
	}
	return e.Copy(), nil
}

// Tables returns all table entries ordered by id.
func (c *Catalog) Tables() []*TableEntry {
	c.mx.RLock()
	defer c.mx.RUnlock()

	ids := utils.SortedKeys(c.catalog.Tables)
	out := make([]*TableEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.catalog.Tables[id].Copy())
	}
	return out
}

// RelTablesOf returns the rel tables whose FWD (resp. BWD) scans are bound to
// nodes of nodeTableID.
func (c *Catalog) RelTablesOf(nodeTableID common.TableID) (fwd, bwd []*TableEntry) {
	for _, e := range c.Tables() {
		if e.Type != common.RelTableEntry {
			continue
		}
		if e.FromTableID == nodeTableID {
			fwd = append(fwd, e)
		}
		if e.ToTableID == nodeTableID {
			bwd = append(bwd, e)
		}
	}
	return fwd, bwd
}

func (c *Catalog) CreateSequence(name string, start, increment int64) (*SequenceEntry, error) {
	if increment == 0 {
		return nil, fmt.Errorf("%w: sequence %s has zero increment", ErrInvalidEntry, name)
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	for _, s := range c.catalog.Sequences {
		if s.Name == name {
			return nil, fmt.Errorf("%w: %s", ErrSequenceExists, name)
		}
	}

	c.catalog.LastSequenceID++
	s := &SequenceEntry{
		ID:         c.catalog.LastSequenceID,
		Name:       name,
		StartValue: start,
		Increment:  increment,
	}
	c.catalog.Sequences[s.ID] = s
	cp := *s
	return &cp, nil
}

func (c *Catalog) RestoreSequence(entry *SequenceEntry) {
	c.mx.Lock()
	defer c.mx.Unlock()

	cp := *entry
	c.catalog.Sequences[entry.ID] = &cp
	c.catalog.LastSequenceID = max(c.catalog.LastSequenceID, entry.ID)
}

func (c *Catalog) GetSequence(name string) (*SequenceEntry, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()

	for _, s := range c.catalog.Sequences {
		if s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSequenceNotFound, name)
}

func (c *Catalog) DropSequence(id uint64) (*SequenceEntry, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	s, ok := c.catalog.Sequences[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrSequenceNotFound, id)
	}
	delete(c.catalog.Sequences, id)
	return s, nil
}

// AdvanceSequence hands out k values and returns the first of them.
func (c *Catalog) AdvanceSequence(id uint64, k uint64) (int64, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	s, ok := c.catalog.Sequences[id]
	if !ok {
		return 0, fmt.Errorf("%w: id %d", ErrSequenceNotFound, id)
	}
	//nolint:gosec
	first := s.StartValue + int64(s.Counter)*s.Increment
	s.Counter += k
	return first, nil
}

func (c *Catalog) Sequences() []*SequenceEntry {
	c.mx.RLock()
	defer c.mx.RUnlock()

	out := make([]*SequenceEntry, 0, len(c.catalog.Sequences))
	for _, id := range utils.SortedKeys(c.catalog.Sequences) {
		cp := *c.catalog.Sequences[id]
		out = append(out, &cp)
	}
	return out
}

func (c *Catalog) CreateGraph(name string, anyGraph bool) (*GraphEntry, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty graph name", ErrInvalidEntry)
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	if _, ok := c.graphByNameAssumeLocked(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphExists, name)
	}

	c.catalog.LastGraphID++
	g := &GraphEntry{ID: c.catalog.LastGraphID, Name: name, Any: anyGraph}
	c.catalog.Graphs[g.ID] = g
	cp := *g
	return &cp, nil
}

// needs lock before calling
func (c *Catalog) graphByNameAssumeLocked(name string) (*GraphEntry, bool) {
	for _, g := range c.catalog.Graphs {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

func (c *Catalog) RestoreGraph(entry *GraphEntry) {
	c.mx.Lock()
	defer c.mx.Unlock()

	cp := *entry
	c.catalog.Graphs[entry.ID] = &cp
	c.catalog.LastGraphID = max(c.catalog.LastGraphID, entry.ID)
}

func (c *Catalog) GetGraph(name string) (*GraphEntry, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()

	g, ok := c.graphByNameAssumeLocked(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	cp := *g
	return &cp, nil
}

func (c *Catalog) DropGraph(id uint64) (*GraphEntry, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	g, ok := c.catalog.Graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrGraphNotFound, id)
	}
	delete(c.catalog.Graphs, id)
	return g, nil
}

// Graphs lists the named graphs in creation order.
func (c *Catalog) Graphs() []*GraphEntry {
	c.mx.RLock()
	defer c.mx.RUnlock()

	out := make([]*GraphEntry, 0, len(c.catalog.Graphs))
	for _, id := range utils.SortedKeys(c.catalog.Graphs) {
		cp := *c.catalog.Graphs[id]
		out = append(out, &cp)
	}
	return out
}

// MarshalFiltered serializes the catalog, skipping tables for which keep
// returns false.
func (c *Catalog) MarshalFiltered(keep func(*TableEntry) bool) ([]byte, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()

	snapshot := SystemCatalog{
		LastTableID:    c.catalog.LastTableID,
		LastSequenceID: c.catalog.LastSequenceID,
		LastGraphID:    c.catalog.LastGraphID,
		Tables:         make(map[common.TableID]*TableEntry, len(c.catalog.Tables)),
		Sequences:      c.catalog.Sequences,
		Graphs:         c.catalog.Graphs,
	}
	for id, e := range c.catalog.Tables {
		if keep == nil || keep(e) {
			snapshot.Tables[id] = e
		}
	}

	data, err := json.Marshal(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize catalog: %w", err)
	}
	return data, nil
}

func (c *Catalog) MarshalBinary() ([]byte, error) {
	return c.MarshalFiltered(nil)
}

func (c *Catalog) UnmarshalBinary(data []byte) error {
	sc := SystemCatalog{}
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("failed to unmarshal catalog: %w", err)
	}
	if sc.Tables == nil {
		sc.Tables = make(map[common.TableID]*TableEntry)
	}
	if sc.Sequences == nil {
		sc.Sequences = make(map[uint64]*SequenceEntry)
	}
	if sc.Graphs == nil {
		sc.Graphs = make(map[uint64]*GraphEntry)
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	c.catalog = sc
	return nil
}
