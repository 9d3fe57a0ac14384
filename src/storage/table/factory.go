package table

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/registry"
)

const (
	ParquetScheme = "parquet://"
	SQLiteScheme  = "sqlite://"
)

var ErrInvalidLocation = errors.New("invalid storage location")

// Location is a parsed catalog storage string.
type Location struct {
	Backend storage.BackendKind
	// Path is the registry id for arrow tables and the file path otherwise.
	Path string
	// Table is the source table of foreign tables.
	Table string
}

func ParseLocation(s string) (Location, error) {
	switch {
	case s == "":
		return Location{Backend: storage.BackendNative}, nil
	case strings.HasPrefix(s, registry.LocationScheme):
		id, ok := registry.ParseLocation(s)
		if !ok {
			return Location{}, fmt.Errorf("%w: %q is not a registry location", ErrInvalidLocation, s)
		}
		return Location{Backend: storage.BackendArrow, Path: id}, nil
	case strings.HasPrefix(s, ParquetScheme):
		path := strings.TrimPrefix(s, ParquetScheme)
		if path == "" {
			return Location{}, fmt.Errorf("%w: %q has no path", ErrInvalidLocation, s)
		}
		return Location{Backend: storage.BackendParquet, Path: path}, nil
	case strings.HasPrefix(s, SQLiteScheme):
		path, query, _ := strings.Cut(strings.TrimPrefix(s, SQLiteScheme), "?")
		params, err := url.ParseQuery(query)
		if err != nil {
			return Location{}, fmt.Errorf("%w: %q: %w", ErrInvalidLocation, s, err)
		}
		if path == "" || params.Get("table") == "" {
			return Location{}, fmt.Errorf("%w: %q needs a path and a table parameter", ErrInvalidLocation, s)
		}
		return Location{Backend: storage.BackendForeign, Path: path, Table: params.Get("table")}, nil
	default:
		return Location{}, fmt.Errorf("%w: unknown scheme in %q", ErrInvalidLocation, s)
	}
}

func ParquetLocation(path string) string {
	return ParquetScheme + path
}

func SQLiteLocation(path, table string) string {
	return SQLiteScheme + path + "?" + url.Values{"table": {table}}.Encode()
}

// Env carries what backends need to open a table.
type Env struct {
	FS        afero.Fs
	Registry  *registry.Registry
	Allocator memory.Allocator
	Log       src.Logger

	// NodeTable resolves the endpoint tables of rel tables.
	NodeTable func(id common.TableID) (storage.NodeTable, error)
}

// Open builds the backend selected by the entry's storage location. The
// backend is fixed for the lifetime of the table.
func Open(env Env, entry *catalog.TableEntry) (storage.Table, error) {
	loc, err := ParseLocation(entry.Storage)
	if err != nil {
		return nil, err
	}
	if entry.Kind() == common.TableKindRel && !loc.Backend.DirectionAware() {
		return nil, fmt.Errorf(
			"%w: %s backend cannot store rel table %s",
			storage.ErrUnsupportedOperation,
			loc.Backend,
			entry.Name,
		)
	}

	var from, to storage.NodeTable
	if entry.Kind() == common.TableKindRel && loc.Backend != storage.BackendNative {
		if from, err = env.NodeTable(entry.FromTableID); err != nil {
			return nil, err
		}
		if to, err = env.NodeTable(entry.ToTableID); err != nil {
			return nil, err
		}
	}

	mem := env.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var t storage.Table
	switch loc.Backend {
	case storage.BackendNative:
		if entry.Kind() == common.TableKindNode {
			t = NewNativeNodeTable(entry, env.Log)
		} else {
			t = NewNativeRelTable(entry, env.Log)
		}
	case storage.BackendArrow:
		if entry.Kind() == common.TableKindNode {
			t, err = OpenArrowNodeTable(entry, env.Registry, loc.Path, env.Log)
		} else {
			t, err = OpenArrowRelTable(entry, env.Registry, loc.Path, from, to, env.Log)
		}
	case storage.BackendParquet:
		if entry.Kind() == common.TableKindNode {
			t, err = OpenParquetNodeTable(entry, env.FS, loc.Path, mem)
		} else {
			t, err = OpenParquetRelTable(entry, env.FS, loc.Path, from, to, mem)
		}
	case storage.BackendForeign:
		t, err = OpenSQLiteNodeTable(entry, loc.Path, loc.Table, env.Log)
	default:
		return nil, fmt.Errorf("%w: backend %s", ErrInvalidLocation, loc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", entry.Name, err)
	}

	env.Log.Debugw("opened table", "table", entry.Name, "id", entry.ID, "backend", loc.Backend)
	return t, nil
}
