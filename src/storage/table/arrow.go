package table

import (
	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/registry"
)

// acquireArrow retains the registered data of id. The returned release drops
// the table's references and unregisters id.
func acquireArrow(reg *registry.Registry, id string, log src.Logger) (*columnarData, func(), error) {
	schema, records, err := reg.Acquire(id)
	if err != nil {
		return nil, nil, err
	}

	data := newColumnarData(schema, records)
	release := func() {
		data.release()
		if reg.Unregister(id) {
			log.Debugw("released external data of dropped table", "id", id)
		}
	}
	return data, release, nil
}

// OpenArrowNodeTable builds a node table over the registry entry id. On
// failure the table's references are dropped but id stays registered.
func OpenArrowNodeTable(
	entry *catalog.TableEntry,
	reg *registry.Registry,
	id string,
	log src.Logger,
) (*ColumnarNodeTable, error) {
	data, release, err := acquireArrow(reg, id, log)
	if err != nil {
		return nil, err
	}

	t, err := newColumnarNodeTable(entry, storage.BackendArrow, data, release)
	if err != nil {
		data.release()
		return nil, err
	}
	return t, nil
}

func OpenArrowRelTable(
	entry *catalog.TableEntry,
	reg *registry.Registry,
	id string,
	from, to storage.NodeTable,
	log src.Logger,
) (*ColumnarRelTable, error) {
	data, release, err := acquireArrow(reg, id, log)
	if err != nil {
		return nil, err
	}

	t, err := newColumnarRelTable(entry, storage.BackendArrow, data, from, to, release)
	if err != nil {
		data.release()
		return nil, err
	}
	return t, nil
}
