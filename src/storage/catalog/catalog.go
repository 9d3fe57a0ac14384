package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

var (
	ErrTableNotFound    = errors.New("table does not exist")
	ErrTableExists      = errors.New("table already exists")
	ErrSequenceNotFound = errors.New("sequence does not exist")
	ErrSequenceExists   = errors.New("sequence already exists")
	ErrGraphNotFound    = errors.New("graph does not exist")
	ErrGraphExists      = errors.New("graph already exists")
	ErrTableReferenced  = errors.New("table is referenced by a rel table")
	ErrInvalidEntry     = errors.New("invalid catalog entry")
)

type Property struct {
	Name string             `json:"name"`
	Type common.LogicalType `json:"type"`
}

type TableEntry struct {
	ID         common.TableID          `json:"id"`
	Name       string                  `json:"name"`
	Type       common.CatalogEntryType `json:"type"`
	Properties []Property              `json:"properties"`

	// node tables
	PrimaryKey string `json:"primary_key,omitempty"`

	// rel tables
	FromTableID common.TableID `json:"from_table_id,omitempty"`
	ToTableID   common.TableID `json:"to_table_id,omitempty"`

	// Storage is empty for native tables, otherwise the location the backend
	// is opened from (arrow://, parquet://, sqlite://).
	Storage string `json:"storage,omitempty"`
}

func (e *TableEntry) Copy() *TableEntry {
	c := *e
	c.Properties = slices.Clone(e.Properties)
	return &c
}

func (e *TableEntry) Kind() common.TableKind {
	if e.Type == common.RelTableEntry {
		return common.TableKindRel
	}
	return common.TableKindNode
}

func (e *TableEntry) IsNative() bool {
	return e.Storage == ""
}

func (e *TableEntry) PropertyIdx(name string) int {
	return slices.IndexFunc(e.Properties, func(p Property) bool { return p.Name == name })
}

func (e *TableEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidEntry)
	}
	seen := make(map[string]struct{}, len(e.Properties))
	for _, p := range e.Properties {
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("%w: duplicate property %s in %s", ErrInvalidEntry, p.Name, e.Name)
		}
		seen[p.Name] = struct{}{}
	}

	switch e.Type {
	case common.NodeTableEntry:
		if e.PrimaryKey == "" {
			if len(e.Properties) == 0 {
				return fmt.Errorf("%w: node table %s has no properties", ErrInvalidEntry, e.Name)
			}
			e.PrimaryKey = e.Properties[0].Name
		}
		if idx := e.PropertyIdx(e.PrimaryKey); idx != 0 {
			return fmt.Errorf(
				"%w: primary key %s must be the first property of %s",
				ErrInvalidEntry,
				e.PrimaryKey,
				e.Name,
			)
		}
	case common.RelTableEntry:
	default:
		return fmt.Errorf("%w: entry type %s is not a table", ErrInvalidEntry, e.Type)
	}
	return nil
}

func (e *TableEntry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

func (e *TableEntry) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

type SequenceEntry struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	StartValue int64  `json:"start_value"`
	Increment  int64  `json:"increment"`
	// Counter is the number of values handed out so far.
	Counter uint64 `json:"counter"`
}

func (e *SequenceEntry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

func (e *SequenceEntry) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

// GraphEntry is a named graph. An ANY graph accepts tables of any shape,
// a STANDARD one follows the usual node/rel schema rules.
type GraphEntry struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
	Any  bool   `json:"any"`
}

func (e *GraphEntry) TypeName() string {
	if e.Any {
		return "ANY"
	}
	return "STANDARD"
}

func (e *GraphEntry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

func (e *GraphEntry) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

type SystemCatalog struct {
	LastTableID    common.TableID                 `json:"last_table_id"`
	LastSequenceID uint64                         `json:"last_sequence_id"`
	LastGraphID    uint64                         `json:"last_graph_id"`
	Tables         map[common.TableID]*TableEntry `json:"tables"`
	Sequences      map[uint64]*SequenceEntry      `json:"sequences"`
	Graphs         map[uint64]*GraphEntry         `json:"graphs,omitempty"`
}
