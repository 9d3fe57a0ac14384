package wal

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
)

type RecordType uint8

const (
	RecordInvalid            RecordType = 0
	RecordBeginTransaction   RecordType = 1
	RecordCommit             RecordType = 2
	RecordCopyTable          RecordType = 13
	RecordCreateCatalogEntry RecordType = 14
	RecordDropCatalogEntry   RecordType = 16
	RecordAlterTableEntry    RecordType = 17
	RecordUpdateSequence     RecordType = 18
	RecordTableInsertion     RecordType = 30
	RecordNodeDeletion       RecordType = 31
	RecordNodeUpdate         RecordType = 32
	RecordRelDeletion        RecordType = 33
	RecordRelDetachDelete    RecordType = 34
	RecordRelUpdate          RecordType = 35
	RecordLoadExtension      RecordType = 100
	RecordCheckpoint         RecordType = 254
)

var ErrUnknownRecordType = errors.New("unknown WAL record type")

func (t RecordType) String() string {
	switch t {
	case RecordBeginTransaction:
		return "BEGIN_TRANSACTION"
	case RecordCommit:
		return "COMMIT"
	case RecordCopyTable:
		return "COPY_TABLE"
	case RecordCreateCatalogEntry:
		return "CREATE_CATALOG_ENTRY"
	case RecordDropCatalogEntry:
		return "DROP_CATALOG_ENTRY"
	case RecordAlterTableEntry:
		return "ALTER_TABLE_ENTRY"
	case RecordUpdateSequence:
		return "UPDATE_SEQUENCE"
	case RecordTableInsertion:
		return "TABLE_INSERTION"
	case RecordNodeDeletion:
		return "NODE_DELETION"
	case RecordNodeUpdate:
		return "NODE_UPDATE"
	case RecordRelDeletion:
		return "REL_DELETION"
	case RecordRelDetachDelete:
		return "REL_DETACH_DELETE"
	case RecordRelUpdate:
		return "REL_UPDATE"
	case RecordLoadExtension:
		return "LOAD_EXTENSION"
	case RecordCheckpoint:
		return "CHECKPOINT"
	default:
		return "INVALID"
	}
}

// Record is an immutable log entry. The set of implementations is closed.
type Record interface {
	Type() RecordType
	String() string
	serializePayload(s *serde.Serializer)
}

var (
	_ Record = &BeginTransactionRecord{}
	_ Record = &CommitRecord{}
	_ Record = &CheckpointRecord{}
	_ Record = &CopyTableRecord{}
	_ Record = &CreateCatalogEntryRecord{}
	_ Record = &DropCatalogEntryRecord{}
	_ Record = &AlterTableEntryRecord{}
	_ Record = &UpdateSequenceRecord{}
	_ Record = &TableInsertionRecord{}
	_ Record = &NodeDeletionRecord{}
	_ Record = &NodeUpdateRecord{}
	_ Record = &RelDeletionRecord{}
	_ Record = &RelDetachDeleteRecord{}
	_ Record = &RelUpdateRecord{}
	_ Record = &LoadExtensionRecord{}
)

func Serialize(s *serde.Serializer, r Record) {
	s.WriteUint8(uint8(r.Type()))
	r.serializePayload(s)
}

func Encode(r Record) ([]byte, error) {
	var buf bytes.Buffer
	s := serde.NewSerializer(&buf)
	Serialize(s, r)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to serialize %s record: %w", r.Type(), err)
	}
	return buf.Bytes(), nil
}

func Deserialize(d *serde.Deserializer) (Record, error) {
	t := RecordType(d.ReadUint8())
	if err := d.Err(); err != nil {
		return nil, err
	}

	var r Record
	switch t {
	case RecordBeginTransaction:
		r = &BeginTransactionRecord{}
	case RecordCommit:
		r = &CommitRecord{}
	case RecordCheckpoint:
		r = &CheckpointRecord{}
	case RecordCopyTable:
		r = &CopyTableRecord{TableID: common.TableID(d.ReadUint64())}
	case RecordCreateCatalogEntry:
		r = &CreateCatalogEntryRecord{
			EntryType: common.CatalogEntryType(d.ReadUint8()),
			Name:      d.ReadString(),
			Payload:   d.ReadBytes(),
		}
	case RecordDropCatalogEntry:
		r = &DropCatalogEntryRecord{
			EntryID:   d.ReadUint64(),
			EntryType: common.CatalogEntryType(d.ReadUint8()),
		}
	case RecordAlterTableEntry:
		r = &AlterTableEntryRecord{
			TableID:   common.TableID(d.ReadUint64()),
			AlterType: AlterType(d.ReadUint8()),
			NewName:   d.ReadString(),
		}
	case RecordUpdateSequence:
		r = &UpdateSequenceRecord{
			SequenceID: d.ReadUint64(),
			KCount:     d.ReadUint64(),
		}
	case RecordTableInsertion:
		rec := &TableInsertionRecord{
			TableID:   common.TableID(d.ReadUint64()),
			TableKind: common.TableKind(d.ReadUint8()),
			NumRows:   d.ReadUint64(),
		}
		numVectors := d.ReadUint64()
		for i := uint64(0); i < numVectors && d.Err() == nil; i++ {
			rec.Vectors = append(rec.Vectors, d.ReadVector())
		}
		r = rec
	case RecordNodeDeletion:
		r = &NodeDeletionRecord{
			TableID:    common.TableID(d.ReadUint64()),
			NodeOffset: common.Offset(d.ReadUint64()),
			PK:         d.ReadVector(),
		}
	case RecordNodeUpdate:
		r = &NodeUpdateRecord{
			TableID:    common.TableID(d.ReadUint64()),
			ColumnID:   d.ReadUint32(),
			NodeOffset: common.Offset(d.ReadUint64()),
			Value:      d.ReadVector(),
		}
	case RecordRelDeletion:
		r = &RelDeletionRecord{
			TableID: common.TableID(d.ReadUint64()),
			Src:     d.ReadInternalID(),
			Dst:     d.ReadInternalID(),
			RelID:   d.ReadInternalID(),
		}
	case RecordRelDetachDelete:
		r = &RelDetachDeleteRecord{
			TableID:    common.TableID(d.ReadUint64()),
			Direction:  common.RelDataDirection(d.ReadUint8()),
			SrcNodeIDs: d.ReadVector(),
		}
	case RecordRelUpdate:
		r = &RelUpdateRecord{
			TableID:  common.TableID(d.ReadUint64()),
			ColumnID: d.ReadUint32(),
			Src:      d.ReadInternalID(),
			Dst:      d.ReadInternalID(),
			RelID:    d.ReadInternalID(),
			Value:    d.ReadVector(),
		}
	case RecordLoadExtension:
		r = &LoadExtensionRecord{Path: d.ReadString()}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecordType, t)
	}

	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s record: %w", t, err)
	}
	return r, nil
}

func writeVector(s *serde.Serializer, v *common.Vector) {
	if v == nil {
		v = common.NewVector(common.TypeAny)
	}
	s.WriteVector(v)
}

func vectorString(v *common.Vector) string {
	if v == nil {
		return "[]"
	}
	return fmt.Sprint(v.Values())
}

type BeginTransactionRecord struct{}

func (*BeginTransactionRecord) Type() RecordType                   { return RecordBeginTransaction }
func (*BeginTransactionRecord) serializePayload(*serde.Serializer) {}
func (*BeginTransactionRecord) String() string                     { return "BEGIN_TRANSACTION" }

type CommitRecord struct{}

func (*CommitRecord) Type() RecordType                   { return RecordCommit }
func (*CommitRecord) serializePayload(*serde.Serializer) {}
func (*CommitRecord) String() string                     { return "COMMIT" }

// CheckpointRecord is logged after the data file and its header are durable.
type CheckpointRecord struct{}

func (*CheckpointRecord) Type() RecordType                   { return RecordCheckpoint }
func (*CheckpointRecord) serializePayload(*serde.Serializer) {}
func (*CheckpointRecord) String() string                     { return "CHECKPOINT" }

type CopyTableRecord struct {
	TableID common.TableID
}

func (*CopyTableRecord) Type() RecordType { return RecordCopyTable }

func (r *CopyTableRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
}

func (r *CopyTableRecord) String() string {
	return fmt.Sprintf("COPY_TABLE{table=%d}", r.TableID)
}

type CreateCatalogEntryRecord struct {
	EntryType common.CatalogEntryType
	Name      string
	// Payload is the JSON encoded catalog entry.
	Payload []byte
}

func (*CreateCatalogEntryRecord) Type() RecordType { return RecordCreateCatalogEntry }

func (r *CreateCatalogEntryRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint8(uint8(r.EntryType))
	s.WriteString(r.Name)
	s.WriteBytes(r.Payload)
}

func (r *CreateCatalogEntryRecord) String() string {
	return fmt.Sprintf("CREATE_CATALOG_ENTRY{type=%s, name=%s}", r.EntryType, r.Name)
}

type DropCatalogEntryRecord struct {
	EntryID   uint64
	EntryType common.CatalogEntryType
}

func (*DropCatalogEntryRecord) Type() RecordType { return RecordDropCatalogEntry }

func (r *DropCatalogEntryRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(r.EntryID)
	s.WriteUint8(uint8(r.EntryType))
}

func (r *DropCatalogEntryRecord) String() string {
	return fmt.Sprintf("DROP_CATALOG_ENTRY{id=%d, type=%s}", r.EntryID, r.EntryType)
}

type AlterType uint8

const (
	AlterRenameTable AlterType = iota
)

type AlterTableEntryRecord struct {
	TableID   common.TableID
	AlterType AlterType
	NewName   string
}

func (*AlterTableEntryRecord) Type() RecordType { return RecordAlterTableEntry }

func (r *AlterTableEntryRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
	s.WriteUint8(uint8(r.AlterType))
	s.WriteString(r.NewName)
}

func (r *AlterTableEntryRecord) String() string {
	return fmt.Sprintf("ALTER_TABLE_ENTRY{table=%d, rename_to=%s}", r.TableID, r.NewName)
}

type UpdateSequenceRecord struct {
	SequenceID uint64
	KCount     uint64
}

func (*UpdateSequenceRecord) Type() RecordType { return RecordUpdateSequence }

func (r *UpdateSequenceRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(r.SequenceID)
	s.WriteUint64(r.KCount)
}

func (r *UpdateSequenceRecord) String() string {
	return fmt.Sprintf("UPDATE_SEQUENCE{sequence=%d, count=%d}", r.SequenceID, r.KCount)
}

// TableInsertionRecord owns the inserted columns. Rel insertions carry the
// source offsets, destination offsets and rel offsets as the first three
// vectors.
type TableInsertionRecord struct {
	TableID   common.TableID
	TableKind common.TableKind
	NumRows   uint64
	Vectors   []*common.Vector
}

func (*TableInsertionRecord) Type() RecordType { return RecordTableInsertion }

func (r *TableInsertionRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
	s.WriteUint8(uint8(r.TableKind))
	s.WriteUint64(r.NumRows)
	s.WriteUint64(uint64(len(r.Vectors)))
	for _, v := range r.Vectors {
		writeVector(s, v)
	}
}

func (r *TableInsertionRecord) String() string {
	return fmt.Sprintf(
		"TABLE_INSERTION{table=%d, kind=%s, rows=%d, columns=%d}",
		r.TableID,
		r.TableKind,
		r.NumRows,
		len(r.Vectors),
	)
}

type NodeDeletionRecord struct {
	TableID    common.TableID
	NodeOffset common.Offset
	PK         *common.Vector
}

func (*NodeDeletionRecord) Type() RecordType { return RecordNodeDeletion }

func (r *NodeDeletionRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
	s.WriteUint64(uint64(r.NodeOffset))
	writeVector(s, r.PK)
}

func (r *NodeDeletionRecord) String() string {
	return fmt.Sprintf(
		"NODE_DELETION{table=%d, offset=%d, pk=%s}",
		r.TableID,
		r.NodeOffset,
		vectorString(r.PK),
	)
}

type NodeUpdateRecord struct {
	TableID    common.TableID
	ColumnID   uint32
	NodeOffset common.Offset
	Value      *common.Vector
}

func (*NodeUpdateRecord) Type() RecordType { return RecordNodeUpdate }

func (r *NodeUpdateRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
	s.WriteUint32(r.ColumnID)
	s.WriteUint64(uint64(r.NodeOffset))
	writeVector(s, r.Value)
}

func (r *NodeUpdateRecord) String() string {
	return fmt.Sprintf(
		"NODE_UPDATE{table=%d, column=%d, offset=%d, value=%s}",
		r.TableID,
		r.ColumnID,
		r.NodeOffset,
		vectorString(r.Value),
	)
}

type RelDeletionRecord struct {
	TableID common.TableID
	Src     common.NodeID
	Dst     common.NodeID
	RelID   common.RelID
}

func (*RelDeletionRecord) Type() RecordType { return RecordRelDeletion }

func (r *RelDeletionRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
	s.WriteInternalID(r.Src)
	s.WriteInternalID(r.Dst)
	s.WriteInternalID(r.RelID)
}

func (r *RelDeletionRecord) String() string {
	return fmt.Sprintf("REL_DELETION{table=%d, src=%s, dst=%s, rel=%s}", r.TableID, r.Src, r.Dst, r.RelID)
}

type RelDetachDeleteRecord struct {
	TableID    common.TableID
	Direction  common.RelDataDirection
	SrcNodeIDs *common.Vector
}

func (*RelDetachDeleteRecord) Type() RecordType { return RecordRelDetachDelete }

func (r *RelDetachDeleteRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
	s.WriteUint8(uint8(r.Direction))
	writeVector(s, r.SrcNodeIDs)
}

func (r *RelDetachDeleteRecord) String() string {
	n := 0
	if r.SrcNodeIDs != nil {
		n = r.SrcNodeIDs.Len()
	}
	return fmt.Sprintf("REL_DETACH_DELETE{table=%d, direction=%s, nodes=%d}", r.TableID, r.Direction, n)
}

type RelUpdateRecord struct {
	TableID  common.TableID
	ColumnID uint32
	Src      common.NodeID
	Dst      common.NodeID
	RelID    common.RelID
	Value    *common.Vector
}

func (*RelUpdateRecord) Type() RecordType { return RecordRelUpdate }

func (r *RelUpdateRecord) serializePayload(s *serde.Serializer) {
	s.WriteUint64(uint64(r.TableID))
	s.WriteUint32(r.ColumnID)
	s.WriteInternalID(r.Src)
	s.WriteInternalID(r.Dst)
	s.WriteInternalID(r.RelID)
	writeVector(s, r.Value)
}

func (r *RelUpdateRecord) String() string {
	return fmt.Sprintf(
		"REL_UPDATE{table=%d, column=%d, rel=%s, value=%s}",
		r.TableID,
		r.ColumnID,
		r.RelID,
		vectorString(r.Value),
	)
}

type LoadExtensionRecord struct {
	Path string
}

func (*LoadExtensionRecord) Type() RecordType { return RecordLoadExtension }

func (r *LoadExtensionRecord) serializePayload(s *serde.Serializer) {
	s.WriteString(r.Path)
}

func (r *LoadExtensionRecord) String() string {
	return fmt.Sprintf("LOAD_EXTENSION{path=%s}", r.Path)
}
