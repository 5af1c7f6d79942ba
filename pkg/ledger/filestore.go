package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/sirosfoundation/go-satdescarga/pkg/message"
)

// Header is the first line of every ledger file
const Header = "id,request_type,date_from,date_to,doc_type,issuer_id,submitted_date,state,completed_date"

// legacyHeader is accepted when reading ledgers written by earlier tooling
const legacyHeader = "id_solicitud,tipo_solicitud,fecha_inicio,fecha_fin,tipo_comp,rfc_emisor,fecha_solicitud,estado,fecha_descarga"

const fieldCount = 9

const (
	colID = iota
	colType
	colDateFrom
	colDateTo
	colDocType
	colIssuer
	colSubmitted
	colState
	colCompleted
)

// FileStore is a Store over a comma separated line file. Every write builds
// the complete replacement and renames it over the original.
type FileStore struct {
	path string
	perm os.FileMode
}

// NewFileStore creates a store at path. The file is created on first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, perm: 0o644}
}

// Path returns the ledger file path
func (s *FileStore) Path() string {
	return s.path
}

type row struct {
	line   int // index into lines
	fields []string
}

// load reads the file and validates every row. lines keeps the raw text of
// each line without the trailing newline.
func (s *FileStore) load() (lines []string, rows []row, err error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, nil
	}

	lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if h := strings.TrimRight(lines[0], "\r"); h != Header && h != legacyHeader {
		return nil, nil, &CorruptionError{Line: 1, Reason: fmt.Sprintf("unexpected header %q", h)}
	}

	for i := 1; i < len(lines); i++ {
		text := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) != fieldCount {
			return nil, nil, &CorruptionError{Line: i + 1, Reason: fmt.Sprintf("%d fields, want %d", len(fields), fieldCount)}
		}
		if _, err := ParseState(fields[colState]); err != nil {
			return nil, nil, &CorruptionError{Line: i + 1, Reason: err.Error()}
		}
		rows = append(rows, row{line: i, fields: fields})
	}
	return lines, rows, nil
}

func (s *FileStore) write(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	data := strings.Join(lines, "\n") + "\n"
	if err := renameio.WriteFile(s.path, []byte(data), s.perm); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	return nil
}

func rowKey(fields []string) Key {
	return Key{
		Type:         fields[colType],
		DateFrom:     fields[colDateFrom],
		DateTo:       fields[colDateTo],
		DocumentType: fields[colDocType],
		IssuerID:     fields[colIssuer],
	}
}

// Lookup implements Store
func (s *FileStore) Lookup(_ context.Context, key Key) (string, bool, error) {
	_, rows, err := s.load()
	if err != nil {
		return "", false, err
	}
	for _, r := range rows {
		if rowKey(r.fields) == key {
			return r.fields[colID], true, nil
		}
	}
	return "", false, nil
}

// Append implements Store
func (s *FileStore) Append(_ context.Context, entry *Entry) error {
	if entry.ID == "" || strings.ContainsAny(entry.ID, ",\r\n") {
		return fmt.Errorf("invalid entry id %q", entry.ID)
	}
	if err := entry.Params.Validate(); err != nil {
		return err
	}
	if _, err := ParseState(string(entry.State)); err != nil {
		return err
	}

	lines, rows, err := s.load()
	if err != nil {
		return err
	}
	key := entry.Key()
	for _, r := range rows {
		if r.fields[colID] == entry.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, entry.ID)
		}
		if rowKey(r.fields) == key {
			return fmt.Errorf("%w: %s (existing id %s)", ErrDuplicateKey, key, r.fields[colID])
		}
	}

	if len(lines) == 0 {
		lines = []string{Header}
	}
	lines = append(lines, formatRow(entry))
	return s.write(lines)
}

// Update implements Store. Only the matching line is rewritten.
func (s *FileStore) Update(_ context.Context, id string, state State, completed time.Time) error {
	lines, rows, err := s.load()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.fields[colID] != id {
			continue
		}
		current, _ := ParseState(r.fields[colState])
		if err := current.CheckTransition(state); err != nil {
			return fmt.Errorf("request %s: %w", id, err)
		}
		if current == state {
			return nil
		}

		fields := append([]string(nil), r.fields...)
		fields[colState] = string(state)
		if !completed.IsZero() {
			fields[colCompleted] = completed.Format(message.DateLayout)
		}
		suffix := ""
		if strings.HasSuffix(lines[r.line], "\r") {
			suffix = "\r"
		}
		lines[r.line] = strings.Join(fields, ",") + suffix
		return s.write(lines)
	}
	return fmt.Errorf("request %s: %w", id, ErrNotFound)
}

// Get implements Store
func (s *FileStore) Get(_ context.Context, id string) (*Entry, error) {
	_, rows, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.fields[colID] == id {
			return parseRow(r)
		}
	}
	return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
}

// Entries returns every recorded entry in file order
func (s *FileStore) Entries(_ context.Context) ([]*Entry, error) {
	_, rows, err := s.load()
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(rows))
	for _, r := range rows {
		e, err := parseRow(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func formatRow(e *Entry) string {
	completed := ""
	if !e.CompletedAt.IsZero() {
		completed = e.CompletedAt.Format(message.DateLayout)
	}
	return strings.Join([]string{
		e.ID,
		e.Params.Type,
		e.Params.DateFromString(),
		e.Params.DateToString(),
		e.Params.DocumentType,
		e.Params.IssuerID,
		e.SubmittedAt.Format(message.DateLayout),
		string(e.State),
		completed,
	}, ",")
}

func parseRow(r row) (*Entry, error) {
	f := r.fields
	corrupt := func(err error) error {
		return &CorruptionError{Line: r.line + 1, Reason: err.Error()}
	}

	state, err := ParseState(f[colState])
	if err != nil {
		return nil, corrupt(err)
	}
	from, err := message.ParseDate(f[colDateFrom])
	if err != nil {
		return nil, corrupt(err)
	}
	to, err := message.ParseDate(f[colDateTo])
	if err != nil {
		return nil, corrupt(err)
	}
	submitted, err := message.ParseDate(f[colSubmitted])
	if err != nil {
		return nil, corrupt(err)
	}
	var completed time.Time
	if f[colCompleted] != "" {
		if completed, err = message.ParseDate(f[colCompleted]); err != nil {
			return nil, corrupt(err)
		}
	}

	return &Entry{
		ID: f[colID],
		Params: message.RequestParameters{
			Type:         f[colType],
			DateFrom:     from,
			DateTo:       to,
			DocumentType: f[colDocType],
			IssuerID:     f[colIssuer],
		},
		SubmittedAt: submitted,
		State:       state,
		CompletedAt: completed,
	}, nil
}
