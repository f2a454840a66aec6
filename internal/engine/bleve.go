package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	index "github.com/blevesearch/bleve_index_api"

	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

// schemaKey is the internal key holding the schema fingerprint.
var schemaKey = []byte("_recyclix_schema")

// Bleve is the bleve v2 Engine.
type Bleve struct {
	// Logger receives reload failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewBleve returns a bleve engine.
func NewBleve(logger *slog.Logger) *Bleve {
	return &Bleve{Logger: logger}
}

// BleveIndex is an opened bleve index shared by its writers and readers.
type BleveIndex struct {
	idx    bleve.Index
	schema Schema
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
}

// OpenOrCreate opens the index at path or creates a new one.
func (b *Bleve) OpenOrCreate(path string, schema Schema) (Index, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := schema.Validate(); err != nil {
		return nil, ierrors.SchemaError(err.Error(), err)
	}

	im, err := buildMapping(schema)
	if err != nil {
		return nil, ierrors.SchemaError("failed to build index mapping", err)
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeEngineOpen, "failed to create in-memory index", err)
		}
		return newBleveIndex(idx, schema, path, logger, true)
	}

	exists, err := prepareDir(path)
	if err != nil {
		return nil, err
	}

	if !exists {
		idx, err := bleve.New(path, im)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeEngineOpen, "failed to create index", err).
				WithDetail("path", path)
		}
		logger.Info("index_created", slog.String("path", path), slog.String("schema", schema.Name))
		return newBleveIndex(idx, schema, path, logger, true)
	}

	if err := validateIndexIntegrity(path); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, err.Error(), err).
			WithDetail("path", path).
			WithSuggestion("remove the directory and re-ingest, or restore it from a backup")
	}

	idx, err := bleve.Open(path)
	if err != nil {
		code := ierrors.ErrCodeEngineOpen
		if isCorruptionError(err) {
			code = ierrors.ErrCodeCorruptIndex
		}
		return nil, ierrors.New(code, "failed to open index", err).WithDetail("path", path)
	}

	logger.Info("index_opened", slog.String("path", path), slog.String("schema", schema.Name))
	return newBleveIndex(idx, schema, path, logger, false)
}

func newBleveIndex(idx bleve.Index, schema Schema, path string, logger *slog.Logger, created bool) (*BleveIndex, error) {
	fingerprint := schema.Fingerprint()

	if created {
		if err := idx.SetInternal(schemaKey, []byte(fingerprint)); err != nil {
			_ = idx.Close()
			return nil, ierrors.New(ierrors.ErrCodeEngineOpen, "failed to persist schema fingerprint", err)
		}
	} else {
		stored, err := idx.GetInternal(schemaKey)
		if err != nil {
			_ = idx.Close()
			return nil, ierrors.New(ierrors.ErrCodeEngineOpen, "failed to read schema fingerprint", err)
		}
		if string(stored) != fingerprint {
			_ = idx.Close()
			return nil, ierrors.New(ierrors.ErrCodeSchemaMismatch,
				fmt.Sprintf("index at %s was created with a different schema", path), nil).
				WithDetail("path", path).
				WithDetail("stored", string(stored)).
				WithDetail("expected", fingerprint).
				WithSuggestion("open it with the original schema or rebuild into a new directory")
		}
	}

	return &BleveIndex{
		idx:       idx,
		schema:    schema,
		path:      path,
		logger:    logger,
		listeners: make(map[int]func()),
	}, nil
}

// prepareDir reports whether path holds an existing index. An empty
// directory is removed so bleve can create the index in its place.
func prepareDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	switch {
	case err == nil && len(entries) > 0:
		return true, nil
	case err == nil:
		if err := os.Remove(path); err != nil {
			return false, ierrors.New(ierrors.ErrCodeDirCreate, "failed to replace empty index directory", err).
				WithDetail("path", path)
		}
	case !os.IsNotExist(err):
		return false, ierrors.New(ierrors.ErrCodeDirCreate, "failed to inspect index directory", err).
			WithDetail("path", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, ierrors.New(ierrors.ErrCodeDirCreate, "failed to create index parent directory", err).
			WithDetail("path", path)
	}
	return false, nil
}

// validateIndexIntegrity checks index_meta.json exists and parses.
func validateIndexIntegrity(path string) error {
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// buildMapping translates a schema into a static bleve mapping.
func buildMapping(schema Schema) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := addCodeAnalyzer(im); err != nil {
		return nil, fmt.Errorf("failed to add code analyzer: %w", err)
	}

	dm := bleve.NewDocumentStaticMapping()
	for _, f := range schema.Fields {
		var fm *mapping.FieldMapping
		switch f.Kind {
		case KindText:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = f.Analyzer
		case KindKeyword:
			fm = bleve.NewKeywordFieldMapping()
		case KindNumeric:
			fm = bleve.NewNumericFieldMapping()
		case KindDateTime:
			fm = bleve.NewDateTimeFieldMapping()
		case KindBoolean:
			fm = bleve.NewBooleanFieldMapping()
		default:
			return nil, fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
		}
		fm.Store = true
		fm.Index = true
		dm.AddFieldMappingsAt(f.Name, fm)
	}

	im.DefaultMapping = dm
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false
	return im, nil
}

// Schema returns the schema the index was opened with.
func (i *BleveIndex) Schema() Schema {
	return i.schema
}

// NewWriter returns a writer whose staged operations may occupy at most
// bufferBytes. A non-positive budget is unlimited.
func (i *BleveIndex) NewWriter(bufferBytes int) (Writer, error) {
	return &bleveWriter{
		index:  i,
		batch:  i.idx.NewBatch(),
		budget: bufferBytes,
		lock:   make(chan struct{}, 1),
	}, nil
}

// NewReader returns a reader positioned at the latest commit.
func (i *BleveIndex) NewReader(opts ReaderOptions) (Reader, error) {
	r := &bleveReader{
		index:  i,
		policy: opts.Policy,
		delay:  opts.Delay,
	}
	if r.delay <= 0 {
		r.delay = DefaultReloadDelay
	}
	if err := r.Reload(context.Background()); err != nil {
		return nil, err
	}
	if r.policy != ReloadManual {
		r.unsubscribe = i.subscribe(r.onCommit)
	}
	return r, nil
}

// DocCount returns the number of committed documents.
func (i *BleveIndex) DocCount() (uint64, error) {
	return i.idx.DocCount()
}

// Close closes the underlying bleve index.
func (i *BleveIndex) Close() error {
	return i.idx.Close()
}

func (i *BleveIndex) subscribe(fn func()) func() {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.listeners[id] = fn
	i.mu.Unlock()

	return func() {
		i.mu.Lock()
		delete(i.listeners, id)
		i.mu.Unlock()
	}
}

func (i *BleveIndex) committed() {
	i.mu.Lock()
	fns := make([]func(), 0, len(i.listeners))
	for _, fn := range i.listeners {
		fns = append(fns, fn)
	}
	i.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (i *BleveIndex) pointInTime() (index.IndexReader, error) {
	adv, err := i.idx.Advanced()
	if err != nil {
		return nil, err
	}
	return adv.Reader()
}

// Verify interface implementation
var (
	_ Engine = (*Bleve)(nil)
	_ Index  = (*BleveIndex)(nil)
)
