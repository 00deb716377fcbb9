package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"civicreport/internal/kv"
)

// Collection and slot names in the engine.
const (
	KeyUsers         = "users"
	KeyReports       = "reports"
	KeySessionPrefix = "currentUser:"
	emptyCollection  = "[]"
)

var (
	ErrConflict       = errors.New("conflict")
	ErrCorrupt        = errors.New("corrupt stored value")
	ErrDuplicateEmail = errors.New("duplicate email")
)

type Store struct {
	engine kv.Engine
	now    func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(engine kv.Engine, opts ...Option) *Store {
	s := &Store{engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error { return s.engine.Ping(ctx) }

// Get decodes the value at key into dst and returns its version. An absent
// key leaves dst untouched so callers can pre-populate the default.
func (s *Store) Get(ctx context.Context, key string, dst any) (int64, error) {
	e, err := s.engine.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !e.Found() {
		return 0, nil
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return e.Version, nil
}

// Set replaces the value at key, provided it is still at version expected.
func (s *Store) Set(ctx context.Context, key string, value any, expected int64) error {
	raw, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.put(ctx, key, raw, expected)
}

func (s *Store) put(ctx context.Context, key string, raw []byte, expected int64) error {
	if _, err := s.engine.Put(ctx, key, raw, expected); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			return fmt.Errorf("%w: %s changed concurrently", ErrConflict, key)
		}
		return err
	}
	return nil
}

// getRaw loads a collection as individual undecoded records.
func (s *Store) getRaw(ctx context.Context, key string) ([]json.RawMessage, int64, error) {
	var records []json.RawMessage
	version, err := s.Get(ctx, key, &records)
	if err != nil {
		return nil, 0, err
	}
	return records, version, nil
}

// setRaw writes records back verbatim, joined into one JSON array.
func (s *Store) setRaw(ctx context.Context, key string, records []json.RawMessage, expected int64) error {
	if len(records) == 0 {
		return s.put(ctx, key, []byte(emptyCollection), expected)
	}
	raw := append([]byte{'['}, bytes.Join(rawBytes(records), []byte{','})...)
	raw = append(raw, ']')
	return s.put(ctx, key, raw, expected)
}

func rawBytes(records []json.RawMessage) [][]byte {
	out := make([][]byte, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

type idOnly struct {
	ID string `json:"id"`
}

func recordIDs(records []json.RawMessage) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(records))
	for i, r := range records {
		var rec idOnly
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		}
		ids[rec.ID] = struct{}{}
	}
	return ids, nil
}

// nextID returns the current Unix millisecond time as a decimal string,
// bumped until it is not already taken.
func nextID(now time.Time, taken map[string]struct{}) string {
	n := now.UnixMilli()
	for {
		id := strconv.FormatInt(n, 10)
		if _, ok := taken[id]; !ok {
			return id
		}
		n++
	}
}

var errNotObject = errors.New("not a json object")

// setField replaces the value of key in the JSON object raw, leaving every
// other byte in place. A missing key is appended before the closing brace.
// When key repeats, the last occurrence is replaced, matching what
// json.Unmarshal reads.
func setField(raw json.RawMessage, key string, value []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}
	start, end, n := -1, -1, 0
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		// offset sits just past the key; the value span includes the colon
		from := dec.InputOffset()
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		if name, _ := kt.(string); name == key {
			start, end = int(from), int(dec.InputOffset())
		}
		n++
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(raw)+len(key)+len(value)+4)
	if start >= 0 {
		out = append(out, raw[:start]...)
		out = append(out, ':')
		out = append(out, value...)
		return append(out, raw[end:]...), nil
	}
	name, err := encode(key)
	if err != nil {
		return nil, err
	}
	closing := int(dec.InputOffset()) - 1
	out = append(out, raw[:closing]...)
	if n > 0 {
		out = append(out, ',')
	}
	out = append(out, name...)
	out = append(out, ':')
	out = append(out, value...)
	return append(out, raw[closing:]...), nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
