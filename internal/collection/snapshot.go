package collection

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/golang/snappy"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// Export streams every document in the collection to w as snappy-compressed
// JSON-lines, one document per line, for out-of-band backup. It is a
// convenience layered directly on Find: no storage format beyond the
// document's own JSON encoding is introduced.
func (c *Collection) Export(ctx context.Context, w io.Writer) (int64, error) {
	docs, err := c.Find(ctx, nil, FindOptions{})
	if err != nil {
		return 0, err
	}

	sw := snappy.NewBufferedWriter(w)
	var count int64
	for _, doc := range docs {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return count, docerrors.Invariant(docerrors.CodeUnreachable, "document failed to marshal for export")
		}
		if _, err := sw.Write(encoded); err != nil {
			return count, docerrors.Backend(docerrors.CodeDriverFailure, "export write failed", err).WithDetails(c.name)
		}
		if _, err := sw.Write([]byte("\n")); err != nil {
			return count, docerrors.Backend(docerrors.CodeDriverFailure, "export write failed", err).WithDetails(c.name)
		}
		count++
	}
	if err := sw.Close(); err != nil {
		return count, docerrors.Backend(docerrors.CodeDriverFailure, "export flush failed", err).WithDetails(c.name)
	}
	return count, nil
}

// Import reads a snapshot produced by Export from r and inserts every
// document it contains inside a single transaction, preserving whatever
// identifier each document already carries.
func (c *Collection) Import(ctx context.Context, r io.Reader) (int64, error) {
	sr := snappy.NewReader(r)
	scanner := bufio.NewScanner(sr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var docs []map[string]any
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(line, &doc); err != nil {
			return 0, docerrors.Wrap(docerrors.ErrCategoryConfiguration, docerrors.CodeMalformedNode,
				"snapshot contains a malformed document", err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return 0, docerrors.Backend(docerrors.CodeDriverFailure, "import read failed", err).WithDetails(c.name)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	inserted, err := c.InsertMany(ctx, docs)
	if err != nil {
		return 0, err
	}
	return int64(len(inserted)), nil
}
