package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

// Op is the action a line asks for.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// maxLineBytes bounds a single JSONL line.
const maxLineBytes = 16 * 1024 * 1024

// Line is one decoded input line.
type Line struct {
	Number int
	Op     Op
	Record schema.Record
}

// openRecords opens path and unwraps .gz and .zst compression.
func openRecords(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ierrors.New(ierrors.ErrCodeFileNotFound, "record file not found: "+path, err)
		}
		return nil, fmt.Errorf("open record file: %w", err)
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, ierrors.ValidationError("invalid gzip stream: "+path, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil

	case strings.HasSuffix(lower, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, ierrors.ValidationError("invalid zstd stream: "+path, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			f.Close,
		}}, nil
	}
	return f, nil
}

// stackedReader closes a decompressor and the file under it.
type stackedReader struct {
	io.Reader
	closers []func() error
}

func (r *stackedReader) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// lineScanner yields decoded lines from a JSONL stream. Blank lines are
// skipped.
type lineScanner struct {
	scanner *bufio.Scanner
	number  int
	line    Line
	err     error
}

func newLineScanner(r io.Reader) *lineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &lineScanner{scanner: s}
}

func (s *lineScanner) Scan() bool {
	for s.scanner.Scan() {
		s.number++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		line, err := ParseLine(raw)
		if err != nil {
			s.err = ierrors.ValidationError(fmt.Sprintf("line %d: %v", s.number, err), err).
				WithDetail("line", fmt.Sprint(s.number))
			return false
		}
		line.Number = s.number
		s.line = line
		return true
	}
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("read records after line %d: %w", s.number, err)
	}
	return false
}

func (s *lineScanner) Line() Line { return s.line }

func (s *lineScanner) Err() error { return s.err }

// ParseLine decodes one line. An object whose only keys are "op" and
// "record" is an envelope; any other object is a record to add. Numbers are
// kept as json.Number so integer keys keep every digit.
func ParseLine(raw []byte) (Line, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Line{}, fmt.Errorf("not a JSON object: %w", err)
	}

	body := raw
	op := OpAdd
	if isEnvelope(obj) {
		if rawOp, ok := obj["op"]; ok {
			var s string
			if err := json.Unmarshal(rawOp, &s); err != nil {
				return Line{}, fmt.Errorf("op must be a string")
			}
			switch Op(strings.ToLower(s)) {
			case OpAdd:
			case OpRemove:
				op = OpRemove
			default:
				return Line{}, fmt.Errorf("unknown op %q", s)
			}
		}
		body = obj["record"]
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var record schema.Record
	if err := dec.Decode(&record); err != nil {
		return Line{}, fmt.Errorf("record is not a JSON object: %w", err)
	}
	if record == nil {
		return Line{}, fmt.Errorf("record is null")
	}
	return Line{Op: op, Record: record}, nil
}

func isEnvelope(obj map[string]json.RawMessage) bool {
	rec, ok := obj["record"]
	if !ok || len(obj) > 2 {
		return false
	}
	if _, hasOp := obj["op"]; len(obj) == 2 && !hasOp {
		return false
	}
	trimmed := bytes.TrimSpace(rec)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
