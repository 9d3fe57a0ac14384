package table

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

// quoteIdent uses backticks: SQLite reads an unknown double-quoted
// identifier as a string literal.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// SQLiteNodeTable exposes a table of a foreign SQLite database as a read-only
// node table. Rows are addressed by their position in rowid order.
type SQLiteNodeTable struct {
	id      common.TableID
	name    nameHolder
	columns []storage.Column
	db      *sql.DB
	table   string
	log     src.Logger

	selectList string
}

var _ storage.NodeTable = &SQLiteNodeTable{}

func OpenSQLiteNodeTable(
	entry *catalog.TableEntry,
	path string,
	table string,
	log src.Logger,
) (*SQLiteNodeTable, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	t := &SQLiteNodeTable{
		id:      entry.ID,
		columns: make([]storage.Column, len(entry.Properties)),
		db:      db,
		table:   table,
		log:     log,
	}
	t.name.set(entry.Name)

	names := make([]string, len(entry.Properties))
	for i, p := range entry.Properties {
		//nolint:gosec
		t.columns[i] = storage.Column{ID: storage.ColumnID(i), Name: p.Name, Type: p.Type}
		names[i] = quoteIdent(p.Name)
	}
	t.selectList = strings.Join(names, ", ")

	if err := t.validate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugw("opened foreign table", "table", entry.Name, "path", path, "source", table)
	return t, nil
}

// validate checks that the foreign table exists and has every declared
// column.
func (t *SQLiteNodeTable) validate() error {
	rows, err := t.db.Query("SELECT name FROM pragma_table_info(?)", t.table)
	if err != nil {
		return fmt.Errorf("failed to read the schema of foreign table %s: %w", t.table, err)
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to read the schema of foreign table %s: %w", t.table, err)
		}
		present[strings.ToLower(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read the schema of foreign table %s: %w", t.table, err)
	}

	if len(present) == 0 {
		return &storage.SchemaMismatchError{
			Table:  t.Name(),
			Reason: fmt.Sprintf("foreign table %s does not exist", t.table),
		}
	}
	for _, c := range t.columns {
		if _, ok := present[strings.ToLower(c.Name)]; !ok {
			return &storage.SchemaMismatchError{
				Table:  t.Name(),
				Reason: fmt.Sprintf("foreign table %s has no column %s", t.table, c.Name),
			}
		}
	}
	return nil
}

func (t *SQLiteNodeTable) ID() common.TableID {
	return t.id
}

func (t *SQLiteNodeTable) Name() string {
	return t.name.get()
}

func (t *SQLiteNodeTable) Rename(name string) {
	t.name.set(name)
}

func (t *SQLiteNodeTable) Kind() common.TableKind {
	return common.TableKindNode
}

func (t *SQLiteNodeTable) Backend() storage.BackendKind {
	return storage.BackendForeign
}

func (t *SQLiteNodeTable) Columns() []storage.Column {
	return t.columns
}

func (t *SQLiteNodeTable) PKColumn() storage.Column {
	return t.columns[0]
}

func (t *SQLiteNodeTable) count() (uint64, error) {
	var n int64
	if err := t.db.QueryRow("SELECT COUNT(*) FROM " + quoteIdent(t.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of foreign table %s: %w", t.table, err)
	}
	//nolint:gosec
	return uint64(n), nil
}

func (t *SQLiteNodeTable) NumTotalRows(*txns.Transaction) uint64 {
	n, err := t.count()
	if err != nil {
		t.log.Warnw("foreign table is unreadable", "table", t.Name(), "error", err)
		return 0
	}
	return n
}

func (t *SQLiteNodeTable) NumNodeGroups(txn *txns.Transaction) uint64 {
	return numGroups(t.NumTotalRows(txn))
}

// convert maps driver values onto the column's logical type.
func convert(typ common.LogicalType, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		v = string(x)
	case int64:
		switch typ {
		case common.TypeBool:
			return x != 0, nil
		case common.TypeDouble:
			return float64(x), nil
		}
	}
	return typ.NormalizeValue(v)
}

func (t *SQLiteNodeTable) LookupPK(_ *txns.Transaction, key any) (common.Offset, bool) {
	if key == nil {
		return common.InvalidOffset, false
	}

	var offset int64
	err := t.db.QueryRow(
		fmt.Sprintf(
			"SELECT (SELECT COUNT(*) FROM %[1]s WHERE rowid < s.rowid) FROM %[1]s AS s WHERE s.%[2]s = ? LIMIT 1",
			quoteIdent(t.table),
			quoteIdent(t.columns[0].Name),
		),
		key,
	).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return common.InvalidOffset, false
	}
	if err != nil {
		t.log.Warnw("foreign primary key lookup failed", "table", t.Name(), "error", err)
		return common.InvalidOffset, false
	}
	return common.Offset(offset), true
}

func (t *SQLiteNodeTable) Value(_ *txns.Transaction, offset common.Offset, columnID storage.ColumnID) (any, error) {
	if int(columnID) >= len(t.columns) {
		return nil, fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, columnID, t.Name())
	}

	var v any
	err := t.db.QueryRow(
		fmt.Sprintf(
			"SELECT %s FROM %s ORDER BY rowid LIMIT 1 OFFSET ?",
			quoteIdent(t.columns[columnID].Name),
			quoteIdent(t.table),
		),
		int64(offset),
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d in %s", storage.ErrNodeNotFound, offset, t.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign table %s: %w", t.table, err)
	}
	return convert(t.columns[columnID].Type, v)
}

func (t *SQLiteNodeTable) Insert(*txns.Transaction, []any) (common.Offset, error) {
	return common.InvalidOffset, fmt.Errorf("%w: insert into foreign table %s", storage.ErrUnsupportedOperation, t.Name())
}

func (t *SQLiteNodeTable) Update(*txns.Transaction, common.Offset, storage.ColumnID, any) error {
	return fmt.Errorf("%w: update of foreign table %s", storage.ErrUnsupportedOperation, t.Name())
}

func (t *SQLiteNodeTable) Delete(*txns.Transaction, common.Offset) (bool, error) {
	return false, fmt.Errorf("%w: delete from foreign table %s", storage.ErrUnsupportedOperation, t.Name())
}

type sqliteScanPayload struct {
	start   uint64
	nextRow uint64
	done    bool
}

func (*sqliteScanPayload) Backend() storage.BackendKind {
	return storage.BackendForeign
}

func (t *SQLiteNodeTable) NewScanPayload() storage.ScanPayload {
	return &sqliteScanPayload{}
}

func (t *SQLiteNodeTable) InitScanState(_ *txns.Transaction, state *storage.ScanState, _ bool) error {
	for _, col := range state.ColumnIDs {
		if int(col) >= len(t.columns) {
			return fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, col, t.Name())
		}
	}

	p := assert.Cast[*sqliteScanPayload](state.Payload)
	group := state.NodeGroupIdx
	if group == storage.InvalidNodeGroupIdx {
		group = 0
	}
	p.start = group * common.NodeGroupSize
	p.nextRow = 0
	p.done = false
	state.Source = storage.ScanSourceExternal
	return nil
}

// ScanBatch issues one query per call for the next vector of the node group.
func (t *SQLiteNodeTable) ScanBatch(_ *txns.Transaction, state *storage.ScanState) (bool, error) {
	p := assert.Cast[*sqliteScanPayload](state.Payload)
	state.ResetOutputs()
	state.NodeIDs.Reset()

	for !p.done && state.OutputSize == 0 {
		limit := min(uint64(common.DefaultVectorCapacity), common.NodeGroupSize-p.nextRow)
		n, err := t.scanRows(state, p.start+p.nextRow, limit)
		if err != nil {
			return false, err
		}
		p.nextRow += n
		if n < limit || p.nextRow >= common.NodeGroupSize {
			p.done = true
		}
	}
	return state.OutputSize > 0, nil
}

// scanRows returns the number of rows read, before predicates.
func (t *SQLiteNodeTable) scanRows(state *storage.ScanState, start, limit uint64) (uint64, error) {
	rows, err := t.db.Query(
		fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid LIMIT ? OFFSET ?", t.selectList, quoteIdent(t.table)),
		//nolint:gosec
		int64(limit),
		//nolint:gosec
		int64(start),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to scan foreign table %s: %w", t.table, err)
	}
	defer rows.Close()

	raw := make([]any, len(t.columns))
	ptrs := make([]any, len(t.columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	values := make([]any, len(t.columns))

	n := uint64(0)
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("failed to scan foreign table %s: %w", t.table, err)
		}
		offset := start + n
		n++

		for i, v := range raw {
			if values[i], err = convert(t.columns[i].Type, v); err != nil {
				return n, fmt.Errorf("%w: foreign table %s column %s: %w", storage.ErrSchemaMismatch, t.table, t.columns[i].Name, err)
			}
		}
		value := func(col storage.ColumnID) any { return values[col] }
		if !storage.EvaluatePredicates(state.Predicates, value) {
			continue
		}
		state.NodeIDs.Append(common.NodeID{Offset: common.Offset(offset), TableID: t.id})
		for i, col := range state.ColumnIDs {
			state.OutputVectors[i].Append(values[col])
		}
		state.OutputSize++
	}
	return n, rows.Err()
}

func (t *SQLiteNodeTable) Close() error {
	return t.db.Close()
}
