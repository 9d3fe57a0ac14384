package common

import "fmt"

type TableKind uint8

const (
	TableKindNode TableKind = iota
	TableKindRel
)

func (k TableKind) String() string {
	switch k {
	case TableKindNode:
		return "NODE"
	case TableKindRel:
		return "REL"
	default:
		return fmt.Sprintf("TableKind(%d)", uint8(k))
	}
}

type CatalogEntryType uint8

const (
	NodeTableEntry CatalogEntryType = iota
	RelTableEntry
	SequenceEntry
	GraphEntry
)

func (t CatalogEntryType) String() string {
	switch t {
	case NodeTableEntry:
		return "NODE_TABLE_ENTRY"
	case RelTableEntry:
		return "REL_TABLE_ENTRY"
	case SequenceEntry:
		return "SEQUENCE_ENTRY"
	case GraphEntry:
		return "GRAPH_ENTRY"
	default:
		return fmt.Sprintf("CatalogEntryType(%d)", uint8(t))
	}
}
