package database

import (
	"bytes"
	"fmt"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/dbheader"
	"github.com/Blackdeer1524/graphcore/src/storage/disk"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
)

// checkpointAssumeLocked writes the catalog and the committed table data
// into fresh page ranges, publishes them through the header and resets the
// WAL. The caller holds the writer lock.
func (d *Database) checkpointAssumeLocked() error {
	if d.wal == nil {
		return nil
	}

	entries := d.catalog.Tables()
	session := sessionScoped(entries)

	catalogData, err := d.catalog.MarshalFiltered(func(e *catalog.TableEntry) bool {
		_, skip := session[e.ID]
		return !skip
	})
	if err != nil {
		return err
	}
	var catBuf bytes.Buffer
	s := serde.NewSerializer(&catBuf)
	s.WriteBytes(catalogData)
	if err := s.Err(); err != nil {
		return fmt.Errorf("failed to serialize catalog: %w", err)
	}

	var persistent []table.Persistent
	var ids []common.TableID
	for _, e := range entries {
		if _, skip := session[e.ID]; skip {
			continue
		}
		t, err := d.tableByID(e.ID)
		if err != nil {
			return err
		}
		if p, ok := t.(table.Persistent); ok {
			persistent = append(persistent, p)
			ids = append(ids, e.ID)
		}
	}

	seq := d.checkpointSeq + 1

	var metaBuf bytes.Buffer
	s = serde.NewSerializer(&metaBuf)
	s.WriteUint64(seq)
	s.WriteUint64(uint64(len(persistent)))
	for i, p := range persistent {
		s.WriteUint64(uint64(ids[i]))
		p.Serialize(s)
	}
	extensions := d.Extensions()
	s.WriteUint64(uint64(len(extensions)))
	for _, ext := range extensions {
		s.WriteString(ext)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("failed to serialize table data: %w", err)
	}

	old := d.header
	catRange := disk.AllocateRange(
		disk.PagesFor(catBuf.Len()),
		old.CatalogPageRange,
		old.MetadataPageRange,
	)
	metaRange := disk.AllocateRange(
		disk.PagesFor(metaBuf.Len()),
		old.CatalogPageRange,
		old.MetadataPageRange,
		catRange,
	)
	if err := d.disk.WritePages(catRange.StartPageIdx, catBuf.Bytes()); err != nil {
		return err
	}
	if err := d.disk.WritePages(metaRange.StartPageIdx, metaBuf.Bytes()); err != nil {
		return err
	}
	if err := d.disk.Sync(); err != nil {
		return err
	}

	h := old
	h.CatalogPageRange = catRange
	h.MetadataPageRange = metaRange
	h.DataFileNumPages = max(catRange.End(), metaRange.End())
	if err := dbheader.Write(d.disk, &h); err != nil {
		return err
	}
	if err := d.disk.Sync(); err != nil {
		return err
	}
	if err := d.disk.Truncate(h.DataFileNumPages); err != nil {
		return err
	}
	d.header = h
	d.checkpointSeq = seq

	// From here on the WAL is older than the data file and is skipped by
	// recovery even if the reset below never happens.
	walSize := d.wal.Size()
	if err := d.wal.LogCheckpoint(); err != nil {
		return err
	}
	if err := d.wal.Reset(seq); err != nil {
		return err
	}
	d.checkpoints.Inc()

	d.log.Infow("checkpoint finished",
		"catalog_pages", catRange,
		"metadata_pages", metaRange,
		"data_file_pages", h.DataFileNumPages,
		"sequence", seq,
		"wal_bytes", walSize,
		"tables", len(persistent),
	)
	return nil
}

func validRange(r common.PageRange) bool {
	return r.StartPageIdx != common.InvalidPageIdx && r.NumPages > 0
}

// loadCheckpoint restores the catalog, the tables and the extension list
// from the ranges the header points at.
func (d *Database) loadCheckpoint() error {
	if validRange(d.header.CatalogPageRange) {
		data, err := d.disk.ReadPages(d.header.CatalogPageRange)
		if err != nil {
			return err
		}
		des := serde.NewDeserializer(bytes.NewReader(data))
		raw := des.ReadBytes()
		if err := des.Err(); err != nil {
			return fmt.Errorf("failed to read catalog: %w", err)
		}
		if err := d.catalog.UnmarshalBinary(raw); err != nil {
			return err
		}
	}

	if err := d.openCatalogTables(); err != nil {
		return err
	}

	if !validRange(d.header.MetadataPageRange) {
		return nil
	}
	data, err := d.disk.ReadPages(d.header.MetadataPageRange)
	if err != nil {
		return err
	}
	des := serde.NewDeserializer(bytes.NewReader(data))
	d.checkpointSeq = des.ReadUint64()
	n := des.ReadUint64()
	for range n {
		id := common.TableID(des.ReadUint64())
		if err := des.Err(); err != nil {
			return fmt.Errorf("failed to read table data: %w", err)
		}
		t, err := d.tableByID(id)
		if err != nil {
			return err
		}
		p, ok := t.(table.Persistent)
		if !ok {
			return fmt.Errorf("table %s has checkpointed data but is not persistent", t.Name())
		}
		if err := p.Deserialize(des); err != nil {
			return err
		}
	}
	k := des.ReadUint64()
	extensions := make([]string, 0, k)
	for range k {
		extensions = append(extensions, des.ReadString())
	}
	if err := des.Err(); err != nil {
		return fmt.Errorf("failed to read extensions: %w", err)
	}
	d.extensions = extensions
	return nil
}

// openCatalogTables opens node tables before rel tables so that rel
// backends can resolve their endpoints.
func (d *Database) openCatalogTables() error {
	entries := d.catalog.Tables()
	for _, kind := range []common.TableKind{common.TableKindNode, common.TableKindRel} {
		for _, e := range entries {
			if e.Kind() != kind {
				continue
			}
			if _, err := d.openTable(e); err != nil {
				return err
			}
		}
	}
	return nil
}
