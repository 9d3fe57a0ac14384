package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
)

// ReadParquet loads every record of the parquet file at path in batches of
// at most common.DefaultVectorCapacity rows. The caller owns the records.
func ReadParquet(
	ctx context.Context,
	fs afero.Fs,
	path string,
	mem memory.Allocator,
) (*arrow.Schema, []arrow.Record, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(
		pf,
		pqarrow.ArrowReadProperties{BatchSize: common.DefaultVectorCapacity},
		mem,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
	}
	defer rr.Release()

	var records []arrow.Record
	for rr.Next() {
		rec := rr.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		for _, rec := range records {
			rec.Release()
		}
		return nil, nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
	}
	return rr.Schema(), records, nil
}

// WriteParquet writes records to path, replacing any existing file.
func WriteParquet(fs afero.Fs, path string, schema *arrow.Schema, records []arrow.Record) error {
	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer for %s: %w", path, err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			return fmt.Errorf("failed to write parquet file %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer for %s: %w", path, err)
	}

	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write parquet file %s: %w", path, err)
	}
	return nil
}

func loadParquet(fs afero.Fs, path string, mem memory.Allocator) (*columnarData, error) {
	schema, records, err := ReadParquet(context.Background(), fs, path, mem)
	if err != nil {
		return nil, err
	}
	return newColumnarData(schema, records), nil
}

func OpenParquetNodeTable(
	entry *catalog.TableEntry,
	fs afero.Fs,
	path string,
	mem memory.Allocator,
) (*ColumnarNodeTable, error) {
	data, err := loadParquet(fs, path, mem)
	if err != nil {
		return nil, err
	}

	t, err := newColumnarNodeTable(entry, storage.BackendParquet, data, data.release)
	if err != nil {
		data.release()
		return nil, err
	}
	return t, nil
}

func OpenParquetRelTable(
	entry *catalog.TableEntry,
	fs afero.Fs,
	path string,
	from, to storage.NodeTable,
	mem memory.Allocator,
) (*ColumnarRelTable, error) {
	data, err := loadParquet(fs, path, mem)
	if err != nil {
		return nil, err
	}

	t, err := newColumnarRelTable(entry, storage.BackendParquet, data, from, to, data.release)
	if err != nil {
		data.release()
		return nil, err
	}
	return t, nil
}
