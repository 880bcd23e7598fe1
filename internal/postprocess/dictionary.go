package postprocess

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"
)

// Entry is one personal-dictionary replacement rule. Membership is unique by
// the normalized (lowercased) spoken form.
type Entry struct {
	Spoken        string `json:"spoken"`
	Written       string `json:"written"`
	Category      string `json:"category"`
	CaseSensitive bool   `json:"case_sensitive"`
	WholeWord     bool   `json:"whole_word"`
}

// defaultEntries seed the dictionary with common tech-term casings.
var defaultEntries = []Entry{
	{Spoken: "api", Written: "API", Category: "tech", WholeWord: true},
	{Spoken: "github", Written: "GitHub", Category: "tech", WholeWord: true},
	{Spoken: "docker", Written: "Docker", Category: "tech", WholeWord: true},
	{Spoken: "kubernetes", Written: "Kubernetes", Category: "tech", WholeWord: true},
	{Spoken: "javascript", Written: "JavaScript", Category: "tech", WholeWord: true},
	{Spoken: "typescript", Written: "TypeScript", Category: "tech", WholeWord: true},
	{Spoken: "ai", Written: "AI", Category: "tech", WholeWord: true},
	{Spoken: "llm", Written: "LLM", Category: "tech", WholeWord: true},
}

// Dictionary is the process-local replacement store. It is SQLite-backed so
// admin mutations stay transactional, but defaults to an in-memory database:
// nothing survives process exit.
type Dictionary struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenDictionary opens the store at path, or in memory when path is empty,
// and seeds the default entries.
func OpenDictionary(ctx context.Context, path string, log *slog.Logger) (*Dictionary, error) {
	dsn := "file::memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create dictionary dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open dictionary store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping dictionary store: %w", err)
	}

	d := &Dictionary{db: db, log: log.With(slog.String("component", "dictionary"))}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := d.seed(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dictionary) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS entries (
    position INTEGER PRIMARY KEY AUTOINCREMENT,
    spoken_norm TEXT NOT NULL UNIQUE,
    spoken TEXT NOT NULL,
    written TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'general',
    case_sensitive INTEGER NOT NULL DEFAULT 0,
    whole_word INTEGER NOT NULL DEFAULT 0
);
`
	_, err := d.db.ExecContext(ctx, ddl)
	return err
}

func (d *Dictionary) seed(ctx context.Context) error {
	for _, e := range defaultEntries {
		if _, err := d.db.ExecContext(ctx,
			`INSERT INTO entries(spoken_norm, spoken, written, category, case_sensitive, whole_word)
			 VALUES(?, ?, ?, ?, ?, ?)
			 ON CONFLICT(spoken_norm) DO NOTHING`,
			normalizeSpoken(e.Spoken), e.Spoken, e.Written, e.Category, boolInt(e.CaseSensitive), boolInt(e.WholeWord)); err != nil {
			return fmt.Errorf("seed dictionary: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database.
func (d *Dictionary) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Upsert adds an entry or replaces the one sharing its normalized spoken
// form. Replacement keeps the new insertion position so later entries lose
// equal-length ties, matching insertion order semantics.
func (d *Dictionary) Upsert(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.Spoken) == "" {
		return fmt.Errorf("spoken form must not be empty")
	}
	if e.Category == "" {
		e.Category = "general"
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE spoken_norm = ?`, normalizeSpoken(e.Spoken)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries(spoken_norm, spoken, written, category, case_sensitive, whole_word)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		normalizeSpoken(e.Spoken), e.Spoken, e.Written, e.Category, boolInt(e.CaseSensitive), boolInt(e.WholeWord)); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes the entry by spoken form. Returns false when absent.
func (d *Dictionary) Remove(ctx context.Context, spoken string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM entries WHERE spoken_norm = ?`, normalizeSpoken(spoken))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns all entries in insertion order.
func (d *Dictionary) List(ctx context.Context) ([]Entry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT spoken, written, category, case_sensitive, whole_word FROM entries ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var cs, ww int
		if err := rows.Scan(&e.Spoken, &e.Written, &e.Category, &cs, &ww); err != nil {
			return nil, err
		}
		e.CaseSensitive = cs != 0
		e.WholeWord = ww != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Apply performs dictionary replacement over text: at each position the
// longest matching spoken form wins, equal lengths resolve by insertion
// order. Surrounding spacing is untouched. Returns the rewritten text and
// the replacement count.
func Apply(text string, entries []Entry) (string, int) {
	if text == "" || len(entries) == 0 {
		return text, 0
	}

	runes := []rune(text)
	var out strings.Builder
	out.Grow(len(text))
	replacements := 0

	for i := 0; i < len(runes); {
		match, ok := bestMatchAt(runes, i, entries)
		if !ok {
			out.WriteRune(runes[i])
			i++
			continue
		}
		out.WriteString(match.entry.Written)
		i += match.length
		replacements++
	}
	return out.String(), replacements
}

type dictMatch struct {
	entry  Entry
	length int
}

// bestMatchAt finds the winning entry matching at rune offset i. Entries are
// assumed to be in insertion order, so the first of the longest matches wins.
func bestMatchAt(runes []rune, i int, entries []Entry) (dictMatch, bool) {
	var best dictMatch
	found := false
	for _, e := range entries {
		spoken := []rune(e.Spoken)
		if len(spoken) == 0 || i+len(spoken) > len(runes) {
			continue
		}
		if !runesEqual(runes[i:i+len(spoken)], spoken, e.CaseSensitive) {
			continue
		}
		if e.WholeWord && !wordBoundary(runes, i, i+len(spoken)) {
			continue
		}
		if !found || len(spoken) > best.length {
			best = dictMatch{entry: e, length: len(spoken)}
			found = true
		}
	}
	return best, found
}

func runesEqual(a, b []rune, caseSensitive bool) bool {
	for i := range b {
		x, y := a[i], b[i]
		if !caseSensitive {
			x = unicode.ToLower(x)
			y = unicode.ToLower(y)
		}
		if x != y {
			return false
		}
	}
	return true
}

// wordBoundary reports whether [start, end) sits on Unicode word boundaries.
func wordBoundary(runes []rune, start, end int) bool {
	if start > 0 && isWordRune(runes[start-1]) {
		return false
	}
	if end < len(runes) && isWordRune(runes[end]) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func normalizeSpoken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
