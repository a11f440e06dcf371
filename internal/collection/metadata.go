package collection

import (
	"context"

	"github.com/arkiliandb/docstore/internal/store"
)

// metadataRecord is the JSON shape of one row in the _metadata collection,
// one per user collection (§4.6).
type metadataRecord struct {
	Collection   string            `json:"collection"`
	IDField      string            `json:"idField"`
	ArrayIndexes map[string]string `json:"arrayIndexes"`
}

// loadOrCreateMetadata loads name's catalog record, creating a default one
// (idField "_id", no array indexes) the first time name is opened.
func loadOrCreateMetadata(ctx context.Context, st *store.Store, name string) (*metadataRecord, error) {
	meta, err := Open(ctx, st, MetadataCollectionName)
	if err != nil {
		return nil, err
	}

	doc, err := meta.FindOne(ctx, map[string]any{"collection": name})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		rec := &metadataRecord{Collection: name, IDField: "_id", ArrayIndexes: map[string]string{}}
		if _, err := meta.Insert(ctx, map[string]any{
			"collection":   rec.Collection,
			"idField":      rec.IDField,
			"arrayIndexes": rec.ArrayIndexes,
		}); err != nil {
			return nil, err
		}
		return rec, nil
	}

	return decodeMetadataRecord(doc), nil
}

func decodeMetadataRecord(doc map[string]any) *metadataRecord {
	rec := &metadataRecord{
		Collection:   stringField(doc, "collection"),
		IDField:      stringField(doc, "idField"),
		ArrayIndexes: map[string]string{},
	}
	if rec.IDField == "" {
		rec.IDField = "_id"
	}
	if raw, ok := doc["arrayIndexes"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				rec.ArrayIndexes[k] = s
			}
		}
	}
	return rec
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

// setMetadataIDField persists a collection's new identifier-field name
// through the normal update path, per §4.5's requirement that SetIdField
// never bypass the catalog's own Collection.
func setMetadataIDField(ctx context.Context, st *store.Store, name, idField string) error {
	meta, err := Open(ctx, st, MetadataCollectionName)
	if err != nil {
		return err
	}
	return meta.Update(ctx,
		map[string]any{"collection": name},
		map[string]any{"$set": map[string]any{"idField": idField}},
		UpdateOptions{Upsert: true})
}

// ListArrayIndexedPaths returns every (collection, field path) pair with a
// materialized array index, read directly from the catalog, for the Guard
// Daemon's verification sweep — it does not need to Open each collection to
// discover what to verify.
func ListArrayIndexedPaths(ctx context.Context, st *store.Store) (map[string][]string, error) {
	meta, err := Open(ctx, st, MetadataCollectionName)
	if err != nil {
		return nil, err
	}
	docs, err := meta.Find(ctx, nil, FindOptions{})
	if err != nil {
		return nil, err
	}

	byCollection := make(map[string][]string, len(docs))
	for _, doc := range docs {
		rec := decodeMetadataRecord(doc)
		if len(rec.ArrayIndexes) == 0 {
			continue
		}
		paths := make([]string, 0, len(rec.ArrayIndexes))
		for path := range rec.ArrayIndexes {
			paths = append(paths, path)
		}
		byCollection[rec.Collection] = paths
	}
	return byCollection, nil
}

// recordArrayIndex persists a newly created array index's side-table name
// under the collection's catalog record, nesting the field path as a
// dotted key ("arrayIndexes.tags") the Update Compiler resolves the same
// way it resolves any other nested field path.
func recordArrayIndex(ctx context.Context, st *store.Store, collectionName, field, table string) error {
	meta, err := Open(ctx, st, MetadataCollectionName)
	if err != nil {
		return err
	}
	return meta.Update(ctx,
		map[string]any{"collection": collectionName},
		map[string]any{"$set": map[string]any{"arrayIndexes." + field: table}},
		UpdateOptions{Upsert: true})
}
