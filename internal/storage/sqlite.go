// Package storage owns the append-only audit store: triage logs, their
// stage-level sub-events, resolution feedback, metrics snapshots, and
// internal error records, all in a single SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for the triage audit trail.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "dogtriage.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Triage logs ---

const triageLogColumns = `id, created_at, message, suburb, contact, classification, confidence, summary,
	recommended_action, urgency, medical, decision_source, tokens_prompt, tokens_completion,
	tokens_total, duration_ms, request_meta, tags, error_id`

// SaveTriageLog inserts an audit record. The caller supplies the id.
func (s *Store) SaveTriageLog(l TriageLog) error {
	meta := l.RequestMeta
	if meta == "" {
		meta = "{}"
	}
	tags := l.Tags
	if tags == "" {
		tags = "[]"
	}
	var medical sql.NullString
	if l.Medical != "" {
		medical = sql.NullString{String: l.Medical, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO triage_logs (`+triageLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CreatedAt.UTC().Format(time.RFC3339), l.Message, l.Suburb, l.Contact,
		l.Classification, l.Confidence, l.Summary, l.RecommendedAction, l.Urgency,
		medical, l.DecisionSource, nullableInt(l.TokensPrompt), nullableInt(l.TokensCompletion),
		nullableInt(l.TokensTotal), l.DurationMs, meta, tags, l.ErrorID,
	)
	return err
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanTriageLog(scan func(dest ...any) error) (TriageLog, error) {
	var l TriageLog
	var createdAt string
	var medical sql.NullString
	var tp, tc, tt sql.NullInt64
	err := scan(&l.ID, &createdAt, &l.Message, &l.Suburb, &l.Contact,
		&l.Classification, &l.Confidence, &l.Summary, &l.RecommendedAction, &l.Urgency,
		&medical, &l.DecisionSource, &tp, &tc, &tt, &l.DurationMs, &l.RequestMeta, &l.Tags, &l.ErrorID)
	if err != nil {
		return TriageLog{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return TriageLog{}, fmt.Errorf("parsing created_at: %w", err)
	}
	l.CreatedAt = t
	if medical.Valid {
		l.Medical = medical.String
	}
	l.TokensPrompt = intPtr(tp)
	l.TokensCompletion = intPtr(tc)
	l.TokensTotal = intPtr(tt)
	return l, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// GetTriageLog returns a single audit record by id.
func (s *Store) GetTriageLog(id string) (TriageLog, error) {
	row := s.db.QueryRow(`SELECT `+triageLogColumns+` FROM triage_logs WHERE id = ?`, id)
	l, err := scanTriageLog(row.Scan)
	if err == sql.ErrNoRows {
		return TriageLog{}, ErrNotFound
	}
	if err != nil {
		return TriageLog{}, err
	}
	return l, nil
}

// ListTriageLogs returns the page of logs matching the filter, newest first,
// together with the total count of matching rows (for pagination UIs).
func (s *Store) ListTriageLogs(f LogFilter) ([]TriageLog, int, error) {
	where, args := buildLogFilter(f)

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM triage_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting triage logs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + triageLogColumns + ` FROM triage_logs` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.Query(query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing triage logs: %w", err)
	}
	defer rows.Close()

	var results []TriageLog
	for rows.Next() {
		l, err := scanTriageLog(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, l)
	}
	return results, total, rows.Err()
}

func buildLogFilter(f LogFilter) (string, []any) {
	var conds []string
	var args []any

	if !f.Start.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Start.UTC().Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.End.UTC().Format(time.RFC3339))
	}
	if f.Classification != "" {
		conds = append(conds, "classification = ?")
		args = append(args, f.Classification)
	}
	if f.Urgency != "" {
		conds = append(conds, "urgency = ?")
		args = append(args, f.Urgency)
	}
	if f.IsMedical != nil {
		// Medical assessments are stored as JSON; match on the boolean field.
		if *f.IsMedical {
			conds = append(conds, "json_extract(medical, '$.is_medical') = 1")
		} else {
			conds = append(conds, "(medical IS NULL OR json_extract(medical, '$.is_medical') = 0)")
		}
	}
	for _, tag := range f.Tags {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(triage_logs.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// LogsInWindow returns all logs created in [start, end), oldest first.
func (s *Store) LogsInWindow(start, end time.Time) ([]TriageLog, error) {
	rows, err := s.db.Query(`SELECT `+triageLogColumns+` FROM triage_logs
		WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TriageLog
	for rows.Next() {
		l, err := scanTriageLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// HourlyCounts returns triage counts grouped by hour (RFC3339 hour start)
// for logs created at or after start.
func (s *Store) HourlyCounts(start time.Time) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT strftime('%Y-%m-%dT%H:00:00Z', created_at) AS hour, COUNT(*)
		FROM triage_logs WHERE created_at >= ? GROUP BY hour`,
		start.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var hour string
		var n int
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, err
		}
		counts[hour] = n
	}
	return counts, rows.Err()
}

// --- Triage events ---

// SaveTriageEvent inserts a stage-level sub-event for a log entry.
func (s *Store) SaveTriageEvent(e TriageEvent) error {
	payload := e.Payload
	if payload == "" {
		payload = "{}"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO triage_events (triage_log_id, stage, payload, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.TriageLogID, e.Stage, payload, e.DurationMs, created.UTC().Format(time.RFC3339),
	)
	return err
}

// EventsForLog returns the sub-events of a log entry in insertion order.
func (s *Store) EventsForLog(logID string) ([]TriageEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, triage_log_id, stage, payload, duration_ms, created_at
		FROM triage_events WHERE triage_log_id = ? ORDER BY id ASC`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TriageEvent
	for rows.Next() {
		var e TriageEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TriageLogID, &e.Stage, &e.Payload, &e.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Resolution feedback ---

// UpsertResolution records the human-supplied actual outcome for a log
// entry. A second call for the same log id overwrites the first. Returns
// ErrNotFound when the log id does not exist.
func (s *Store) UpsertResolution(f ResolutionFeedback) error {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM triage_logs WHERE id = ?", f.TriageLogID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	resolved := f.ResolvedAt
	if resolved.IsZero() {
		resolved = time.Now().UTC()
	}
	var wasCorrect any
	if f.WasCorrect != nil {
		wasCorrect = boolToInt(*f.WasCorrect)
	}
	_, err = s.db.Exec(`
		INSERT INTO resolution_feedback (triage_log_id, actual_category, predicted_category, was_correct, resolved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(triage_log_id) DO UPDATE SET
			actual_category = excluded.actual_category,
			predicted_category = excluded.predicted_category,
			was_correct = excluded.was_correct,
			resolved_at = excluded.resolved_at`,
		f.TriageLogID, f.ActualCategory, f.PredictedCategory, wasCorrect,
		resolved.UTC().Format(time.RFC3339),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetResolution returns the feedback recorded for a log entry, if any.
func (s *Store) GetResolution(logID string) (ResolutionFeedback, error) {
	var f ResolutionFeedback
	var resolvedAt string
	var wasCorrect sql.NullInt64
	err := s.db.QueryRow(`
		SELECT triage_log_id, actual_category, predicted_category, was_correct, resolved_at
		FROM resolution_feedback WHERE triage_log_id = ?`, logID,
	).Scan(&f.TriageLogID, &f.ActualCategory, &f.PredictedCategory, &wasCorrect, &resolvedAt)
	if err == sql.ErrNoRows {
		return ResolutionFeedback{}, ErrNotFound
	}
	if err != nil {
		return ResolutionFeedback{}, err
	}
	t, err := time.Parse(time.RFC3339, resolvedAt)
	if err != nil {
		return ResolutionFeedback{}, fmt.Errorf("parsing resolved_at: %w", err)
	}
	f.ResolvedAt = t
	if wasCorrect.Valid {
		b := wasCorrect.Int64 == 1
		f.WasCorrect = &b
	}
	return f, nil
}

// ResolutionStats returns how many logs in [start, end) carry feedback and
// how many of those were marked correct.
func (s *Store) ResolutionStats(start, end time.Time) (resolved, correct int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN r.was_correct = 1 THEN 1 ELSE 0 END), 0)
		FROM resolution_feedback r
		JOIN triage_logs l ON l.id = r.triage_log_id
		WHERE l.created_at >= ? AND l.created_at < ?`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	).Scan(&resolved, &correct)
	return resolved, correct, err
}

// --- Weekly metrics snapshots ---

// UpsertWeeklySnapshot stores a snapshot keyed by its week start.
func (s *Store) UpsertWeeklySnapshot(w WeeklySnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO weekly_metrics (week_start, computed_at, total_triages, classifications,
			priorities, decision_sources, ai_decision_pct, resolution_accuracy_pct, narrative)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(week_start) DO UPDATE SET
			computed_at = excluded.computed_at,
			total_triages = excluded.total_triages,
			classifications = excluded.classifications,
			priorities = excluded.priorities,
			decision_sources = excluded.decision_sources,
			ai_decision_pct = excluded.ai_decision_pct,
			resolution_accuracy_pct = excluded.resolution_accuracy_pct,
			narrative = excluded.narrative`,
		w.WeekStart.UTC().Format(time.RFC3339), w.ComputedAt.UTC().Format(time.RFC3339),
		w.TotalTriages, w.Classifications, w.Priorities, w.DecisionSources,
		w.AIDecisionPct, w.ResolutionAccuracyPct, w.Narrative,
	)
	return err
}

// LatestWeeklySnapshot returns the most recent stored snapshot.
func (s *Store) LatestWeeklySnapshot() (WeeklySnapshot, error) {
	var w WeeklySnapshot
	var weekStart, computedAt string
	err := s.db.QueryRow(`
		SELECT week_start, computed_at, total_triages, classifications, priorities,
			decision_sources, ai_decision_pct, resolution_accuracy_pct, narrative
		FROM weekly_metrics ORDER BY week_start DESC LIMIT 1`,
	).Scan(&weekStart, &computedAt, &w.TotalTriages, &w.Classifications, &w.Priorities,
		&w.DecisionSources, &w.AIDecisionPct, &w.ResolutionAccuracyPct, &w.Narrative)
	if err == sql.ErrNoRows {
		return WeeklySnapshot{}, ErrNotFound
	}
	if err != nil {
		return WeeklySnapshot{}, err
	}
	if w.WeekStart, err = time.Parse(time.RFC3339, weekStart); err != nil {
		return WeeklySnapshot{}, fmt.Errorf("parsing week_start: %w", err)
	}
	if w.ComputedAt, err = time.Parse(time.RFC3339, computedAt); err != nil {
		return WeeklySnapshot{}, fmt.Errorf("parsing computed_at: %w", err)
	}
	return w, nil
}

// --- App errors ---

// SaveAppError inserts an internal-failure record.
func (s *Store) SaveAppError(e AppError) error {
	detail := e.Detail
	if detail == "" {
		detail = "{}"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO app_errors (id, route, message, detail, level, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Route, e.Message, detail, e.Level, e.DurationMs,
		created.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentAppErrors returns the newest internal-failure records.
func (s *Store) RecentAppErrors(limit int) ([]AppError, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, route, message, detail, level, duration_ms, created_at
		FROM app_errors ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AppError
	for rows.Next() {
		var e AppError
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Route, &e.Message, &e.Detail, &e.Level, &e.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}
