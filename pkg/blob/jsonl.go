package blob

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MalformedLineError reports a JSONL line that failed to parse, without
// aborting the read: ingestion treats a malformed line as one failed
// ImportRecord, not a reason to fail the whole batch.
type MalformedLineError struct {
	LineNumber int
	Cause      error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line %d: %v", e.LineNumber, e.Cause)
}

func (e *MalformedLineError) Unwrap() error { return e.Cause }

// JSONLReader walks a JSONL blob line by line, handing each raw line and its
// 1-based line number to a visitor. A malformed line is reported to the
// visitor as a *MalformedLineError and reading continues with the next
// line — one bad record must never abort the rest of the import.
type JSONLReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLReader wraps r for line-by-line JSONL iteration.
func NewJSONLReader(r io.Reader) *JSONLReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLReader{scanner: scanner}
}

// Next returns the next line's number and raw bytes. io.EOF ends iteration.
// A line that isn't valid JSON is still returned (raw, nil cause) — callers
// that need strict validation should json.Unmarshal it themselves and wrap
// the resulting error in a *MalformedLineError via the LineNumber.
func (r *JSONLReader) Next() (lineNumber int, raw []byte, err error) {
	for r.scanner.Scan() {
		r.line++
		text := bytes.TrimSpace(r.scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		out := make([]byte, len(text))
		copy(out, text)
		return r.line, out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return r.line, nil, fmt.Errorf("failed to scan jsonl: %w", err)
	}
	return r.line, nil, io.EOF
}

// ForEach drives Next to completion, calling visit for every non-empty
// line. An error returned by visit means that single line failed to
// process — it is wrapped as a *MalformedLineError and passed to onFailure,
// and iteration continues with the next line. Only a read failure from the
// underlying scanner aborts ForEach itself.
func (r *JSONLReader) ForEach(visit func(lineNumber int, raw []byte) error, onFailure func(*MalformedLineError)) error {
	for {
		lineNumber, raw, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if verr := visit(lineNumber, raw); verr != nil {
			onFailure(&MalformedLineError{LineNumber: lineNumber, Cause: verr})
		}
	}
}

// JSONLWriter appends one JSON value per line to an in-memory buffer,
// intended to be Put through Gateway once complete (result reports, export
// files).
type JSONLWriter struct {
	buf bytes.Buffer
}

// NewJSONLWriter creates an empty JSONLWriter.
func NewJSONLWriter() *JSONLWriter {
	return &JSONLWriter{}
}

// Write marshals v and appends it as one line.
func (w *JSONLWriter) Write(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal jsonl line: %w", err)
	}
	w.buf.Write(raw)
	w.buf.WriteByte('\n')
	return nil
}

// Bytes returns the accumulated JSONL content.
func (w *JSONLWriter) Bytes() []byte {
	return w.buf.Bytes()
}
