package telemetry

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nutmon/nutmon/pkg/errkind"
)

const tableName = "ups_telemetry"

// tsLayout is a fixed-width UTC millisecond layout so lexicographic
// order on the ts column matches chronological order.
const tsLayout = "2006-01-02T15:04:05.000Z"

const (
	// DefaultMaxPoints is used when a range query does not specify one.
	DefaultMaxPoints = 300
	// MaxPointsCap bounds any requested downsample size.
	MaxPointsCap = 5000
)

// Point is one telemetry row. Absent readings are nil.
type Point struct {
	TS     time.Time           `json:"ts"`
	Values map[string]*float64 `json:"values"`
}

// MinMax holds the per-column extremes over a range.
type MinMax struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// RangeQuery selects rows in [Start, End] inclusive. Timestamps are
// ISO-8601 strings; Columns defaults to all columns. MaxPoints is
// clamped to [1, MaxPointsCap]; callers that want the default budget
// pass DefaultMaxPoints explicitly.
type RangeQuery struct {
	Start     string
	End       string
	Columns   []string
	MaxPoints int
}

// Store owns the telemetry database file. All writes flow through a
// single connection so concurrent pollers cannot interleave partial
// rows.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and brings the schema up
// to date. Column additions are idempotent so schema upgrades never
// lose data.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errkind.Wrap(errkind.Io, err, "create data directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errkind.Wrapf(errkind.Io, err, "open database %s", path)
	}
	// Single writer; see the file-lock note in DESIGN.md.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a private in-memory store, used by tests.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate creates the table and adds any missing telemetry columns.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (ts TEXT PRIMARY KEY)`, tableName)); err != nil {
		return errkind.Wrap(errkind.Io, err, "create telemetry table")
	}

	existing, err := s.existingColumns()
	if err != nil {
		return err
	}
	for _, col := range Columns {
		if existing[col] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s REAL`, tableName, col)); err != nil {
			return errkind.Wrapf(errkind.Io, err, "add column %s", col)
		}
		logrus.WithField("column", col).Debug("telemetry schema: added column")
	}
	return nil
}

func (s *Store) existingColumns() (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, errkind.Wrap(errkind.Io, err, "query table info")
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dflt *string
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, errkind.Wrap(errkind.Io, err, "scan table info")
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// InsertFromSnapshot derives telemetry values from a raw NUT snapshot
// and upserts them at ts. It returns the columns that were actually
// assigned, including explicit nils for unparseable readings.
func (s *Store) InsertFromSnapshot(ts time.Time, raw map[string]string, mapping map[string]string) (map[string]*float64, error) {
	values := MapSnapshot(raw, mapping)
	if err := s.InsertPoint(ts, values); err != nil {
		return nil, err
	}
	return values, nil
}

// InsertPoint upserts one row keyed on ts. Columns missing from values
// are stored as NULL, never 0.
func (s *Store) InsertPoint(ts time.Time, values map[string]*float64) error {
	cols := make([]string, 0, len(Columns)+1)
	placeholders := make([]string, 0, len(Columns)+1)
	updates := make([]string, 0, len(Columns))
	args := make([]any, 0, len(Columns)+1)

	cols = append(cols, "ts")
	placeholders = append(placeholders, "?")
	args = append(args, formatTS(ts))

	for _, col := range Columns {
		cols = append(cols, col)
		placeholders = append(placeholders, "?")
		updates = append(updates, fmt.Sprintf("%s=excluded.%s", col, col))
		if v, ok := values[col]; ok && v != nil {
			args = append(args, *v)
		} else {
			args = append(args, nil)
		}
	}

	stmt := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(ts) DO UPDATE SET %s`,
		tableName,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
	if _, err := s.db.Exec(stmt, args...); err != nil {
		return errkind.Wrap(errkind.Io, err, "upsert telemetry row")
	}
	return nil
}

// Latest returns the newest row, or nil when the table is empty.
func (s *Store) Latest() (*Point, error) {
	stmt := fmt.Sprintf(`SELECT ts, %s FROM %s ORDER BY ts DESC LIMIT 1`,
		strings.Join(Columns, ", "), tableName)
	rows, err := s.db.Query(stmt)
	if err != nil {
		return nil, errkind.Wrap(errkind.Io, err, "query latest row")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPoint(rows, Columns)
	if err != nil {
		return nil, err
	}
	return p, rows.Err()
}

// QueryRange returns rows in [start, end] inclusive, ascending by ts,
// downsampled by index-striding to at most MaxPoints rows.
func (s *Store) QueryRange(q RangeQuery) ([]Point, error) {
	start, err := parseISO(q.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseISO(q.End)
	if err != nil {
		return nil, err
	}

	cols := q.Columns
	if len(cols) == 0 {
		cols = Columns
	} else {
		for _, c := range cols {
			if !IsColumn(c) {
				return nil, errkind.Newf(errkind.InvalidArgument, "unknown column %q", c)
			}
		}
	}

	// A budget of 0 (or less) clamps to 1 and keeps only the last row.
	maxPoints := q.MaxPoints
	if maxPoints < 1 {
		maxPoints = 1
	}
	if maxPoints > MaxPointsCap {
		maxPoints = MaxPointsCap
	}

	stmt := fmt.Sprintf(`SELECT ts, %s FROM %s WHERE ts >= ? AND ts <= ? ORDER BY ts ASC`,
		strings.Join(cols, ", "), tableName)
	rows, err := s.db.Query(stmt, formatTS(start), formatTS(end))
	if err != nil {
		return nil, errkind.Wrap(errkind.Io, err, "query range")
	}
	defer func() { _ = rows.Close() }()

	var points []Point
	for rows.Next() {
		p, err := scanPoint(rows, cols)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Io, err, "iterate range")
	}

	return Downsample(points, maxPoints), nil
}

// Downsample reduces points to at most maxPoints rows by index
// striding: row i of the result is input row round(i*(N-1)/(M-1)).
// A single-point budget keeps only the last row.
func Downsample(points []Point, maxPoints int) []Point {
	n := len(points)
	if n <= maxPoints {
		return points
	}
	if maxPoints <= 1 {
		return []Point{points[n-1]}
	}

	out := make([]Point, 0, maxPoints)
	for i := 0; i < maxPoints; i++ {
		idx := int(math.Round(float64(i) * float64(n-1) / float64(maxPoints-1)))
		out = append(out, points[idx])
	}
	return out
}

// MinMaxForRange computes per-column minima and maxima over
// [start, end] inclusive. Columns with no data report nil extremes.
func (s *Store) MinMaxForRange(startISO, endISO string) (map[string]MinMax, error) {
	start, err := parseISO(startISO)
	if err != nil {
		return nil, err
	}
	end, err := parseISO(endISO)
	if err != nil {
		return nil, err
	}

	var selects []string
	for _, col := range Columns {
		selects = append(selects, fmt.Sprintf("MIN(%s), MAX(%s)", col, col))
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE ts >= ? AND ts <= ?`,
		strings.Join(selects, ", "), tableName)

	dest := make([]any, 2*len(Columns))
	mins := make([]sql.NullFloat64, len(Columns))
	maxs := make([]sql.NullFloat64, len(Columns))
	for i := range Columns {
		dest[2*i] = &mins[i]
		dest[2*i+1] = &maxs[i]
	}
	if err := s.db.QueryRow(stmt, formatTS(start), formatTS(end)).Scan(dest...); err != nil {
		return nil, errkind.Wrap(errkind.Io, err, "query min/max")
	}

	out := make(map[string]MinMax, len(Columns))
	for i, col := range Columns {
		var mm MinMax
		if mins[i].Valid {
			v := mins[i].Float64
			mm.Min = &v
		}
		if maxs[i].Valid {
			v := maxs[i].Float64
			mm.Max = &v
		}
		out[col] = mm
	}
	return out, nil
}

// DeleteOlderThan removes rows with ts strictly before cutoff and
// returns how many were removed.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	cut := formatTS(cutoff)

	var count int64
	if err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE ts < ?`, tableName), cut).Scan(&count); err != nil {
		return 0, errkind.Wrap(errkind.Io, err, "count expired rows")
	}
	if count == 0 {
		return 0, nil
	}
	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE ts < ?`, tableName), cut); err != nil {
		return 0, errkind.Wrap(errkind.Io, err, "delete expired rows")
	}
	return count, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseISO(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errkind.New(errkind.InvalidArgument, "timestamp must not be empty")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, tsLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errkind.Newf(errkind.InvalidArgument, "invalid ISO timestamp %q", s)
}

func scanPoint(rows *sql.Rows, cols []string) (*Point, error) {
	dest := make([]any, len(cols)+1)
	var tsStr string
	dest[0] = &tsStr
	vals := make([]sql.NullFloat64, len(cols))
	for i := range cols {
		dest[i+1] = &vals[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, errkind.Wrap(errkind.Io, err, "scan telemetry row")
	}

	ts, err := time.Parse(tsLayout, tsStr)
	if err != nil {
		return nil, errkind.Wrapf(errkind.Io, err, "parse stored timestamp %q", tsStr)
	}

	p := &Point{TS: ts, Values: make(map[string]*float64, len(cols))}
	for i, col := range cols {
		if vals[i].Valid {
			v := vals[i].Float64
			p.Values[col] = &v
		} else {
			p.Values[col] = nil
		}
	}
	return p, nil
}
