package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// bleveWriter stages operations in a bleve.Batch. The single-slot lock
// channel lets Drain wait for a running Commit with a deadline.
type bleveWriter struct {
	index  *BleveIndex
	lock   chan struct{}
	batch  *bleve.Batch
	staged int
	bytes  int
	budget int

	retired bool
}

func (w *bleveWriter) acquire() {
	w.lock <- struct{}{}
}

func (w *bleveWriter) release() {
	<-w.lock
}

// DeleteByTerm stages deletion of every document matching term. Primary-key
// terms map straight to a document ID; other fields are resolved against the
// last commit.
func (w *bleveWriter) DeleteByTerm(term Term) error {
	w.acquire()
	defer w.release()

	if w.retired {
		return ErrWriterRetired
	}

	if term.Field == w.index.schema.PrimaryKey {
		id, err := KeyString(term.Value)
		if err != nil {
			return fmt.Errorf("primary key term: %w", err)
		}
		w.batch.Delete(id)
		w.staged++
		w.bytes += len(id)
		return nil
	}

	ids, err := w.index.matchingIDs(term)
	if err != nil {
		return err
	}
	for _, id := range ids {
		w.batch.Delete(id)
		w.staged++
		w.bytes += len(id)
	}
	return nil
}

// AddDocument stages doc. The buffer budget is charged with the document's
// JSON size.
func (w *bleveWriter) AddDocument(doc Document) error {
	w.acquire()
	defer w.release()

	if w.retired {
		return ErrWriterRetired
	}
	if doc.ID == "" {
		return fmt.Errorf("document has no id")
	}

	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("document %s: %w", doc.ID, err)
	}
	size := len(data) + len(doc.ID)
	if w.budget > 0 && w.bytes+size > w.budget {
		return fmt.Errorf("document %s (%d bytes, %d staged): %w", doc.ID, size, w.bytes, ErrBufferFull)
	}

	if err := w.batch.Index(doc.ID, doc.Fields); err != nil {
		return fmt.Errorf("document %s: %w", doc.ID, err)
	}
	w.staged++
	w.bytes += size
	return nil
}

// Commit applies the staged batch. On failure the batch is kept so the
// commit can be retried.
func (w *bleveWriter) Commit() error {
	w.acquire()
	defer w.release()

	if w.retired {
		return ErrWriterRetired
	}
	if w.staged == 0 {
		return nil
	}

	if err := w.index.idx.Batch(w.batch); err != nil {
		return err
	}
	w.reset()
	w.index.committed()
	return nil
}

func (w *bleveWriter) Rollback() {
	w.acquire()
	defer w.release()
	w.reset()
}

func (w *bleveWriter) reset() {
	w.batch.Reset()
	w.staged = 0
	w.bytes = 0
}

// Drain waits for a running commit, discards staged operations and retires
// the writer.
func (w *bleveWriter) Drain(ctx context.Context) error {
	select {
	case w.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("drain: %w", ctx.Err())
	}
	defer w.release()

	if w.staged > 0 {
		w.index.logger.Warn("writer_drained_with_staged_ops", "staged", w.staged)
	}
	w.reset()
	w.retired = true
	return nil
}

func (w *bleveWriter) Staged() int {
	w.acquire()
	defer w.release()
	return w.staged
}

// matchingIDs returns the IDs of committed documents whose field equals the
// term value.
func (i *BleveIndex) matchingIDs(term Term) ([]string, error) {
	field, ok := i.schema.Field(term.Field)
	if !ok {
		return nil, fmt.Errorf("unknown field %q", term.Field)
	}

	var q query.Query
	switch field.Kind {
	case KindText, KindKeyword:
		s, ok := term.Value.(string)
		if !ok {
			return nil, fmt.Errorf("field %q: expected string term, got %T", field.Name, term.Value)
		}
		tq := bleve.NewTermQuery(s)
		tq.SetField(field.Name)
		q = tq
	case KindNumeric:
		n, ok := Numeric(term.Value)
		if !ok {
			return nil, fmt.Errorf("field %q: expected numeric term, got %T", field.Name, term.Value)
		}
		inclusive := true
		nq := bleve.NewNumericRangeInclusiveQuery(&n, &n, &inclusive, &inclusive)
		nq.SetField(field.Name)
		q = nq
	case KindBoolean:
		b, ok := term.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("field %q: expected bool term, got %T", field.Name, term.Value)
		}
		bq := bleve.NewBoolFieldQuery(b)
		bq.SetField(field.Name)
		q = bq
	case KindDateTime:
		t, ok := term.Value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("field %q: expected time term, got %T", field.Name, term.Value)
		}
		inclusive := true
		dq := bleve.NewDateRangeInclusiveQuery(t, t, &inclusive, &inclusive)
		dq.SetField(field.Name)
		q = dq
	}

	count, err := i.idx.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(q, int(count), 0, false)
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("resolve term %s: %w", field.Name, err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

var _ Writer = (*bleveWriter)(nil)
