// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package archive persists finished research runs in a SQLite database
// so they can be inspected and exported later.
//
// Each run stores its plan, the evidence snapshot (items in insertion
// order plus section membership), one row per round, and the gap list of
// every round. The source and fingerprint indexes are not stored; they
// are rebuilt and verified when a snapshot is loaded.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/refine"
	"github.com/pdiddy/deep-research/pkg/types"
)

const dbFile = "archive.db"

// ErrNotFound is returned when a run id is not in the archive.
var ErrNotFound = errors.New("run not found")

// Archive manages the run archive database.
type Archive struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger
}

// Run is the summary row of an archived run.
type Run struct {
	ID             string        `json:"id" yaml:"id"`
	Topic          string        `json:"topic" yaml:"topic"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	StopReason     string        `json:"stop_reason" yaml:"stop_reason"`
	Rounds         int           `json:"rounds" yaml:"rounds"`
	CollectorCalls int           `json:"collector_calls" yaml:"collector_calls"`
	Items          int           `json:"items" yaml:"items"`
	Elapsed        time.Duration `json:"elapsed" yaml:"elapsed"`
	Unresolvable   []string      `json:"unresolvable,omitempty" yaml:"unresolvable,omitempty"`
}

// GapRecord is one missing question recorded at the end of a round.
type GapRecord struct {
	Round    int    `json:"round" yaml:"round"`
	Section  string `json:"section" yaml:"section"`
	Question string `json:"question" yaml:"question"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open opens or creates the archive database at cfg.RunsDir/archive.db
// and creates the schema if it does not exist. A nil logger discards log
// output.
func Open(cfg types.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.RunsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}

	dbPath := filepath.Join(cfg.RunsDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &Archive{db: db, dir: cfg.RunsDir, logger: logger}
	if err := a.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return a, nil
}

// Close releases the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Dir returns the directory holding the database and per-run files.
func (a *Archive) Dir() string {
	return a.dir
}

func (a *Archive) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			plan TEXT NOT NULL,
			started_at TEXT NOT NULL,
			stop_reason TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			collector_calls INTEGER NOT NULL,
			elapsed_ns INTEGER NOT NULL,
			unresolvable TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS evidence (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT,
			quote TEXT,
			year INTEGER,
			tags TEXT,
			section TEXT NOT NULL,
			supported_questions TEXT,
			fingerprint TEXT NOT NULL,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			section TEXT NOT NULL,
			seq INTEGER NOT NULL,
			evidence_id TEXT NOT NULL,
			PRIMARY KEY (run_id, section, evidence_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			round INTEGER NOT NULL,
			inserted INTEGER NOT NULL,
			deduplicated INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			store_size INTEGER NOT NULL,
			report TEXT NOT NULL,
			PRIMARY KEY (run_id, round)
		)`,
		`CREATE TABLE IF NOT EXISTS gaps (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			round INTEGER NOT NULL,
			section TEXT NOT NULL,
			seq INTEGER NOT NULL,
			question TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_section ON evidence(run_id, section)`,
		`CREATE INDEX IF NOT EXISTS idx_gaps_run ON gaps(run_id, round)`,
	}

	for _, stmt := range statements {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save records a finished run in one transaction. Saving the same id
// twice is an error.
func (a *Archive) Save(ctx context.Context, id string, plan types.ResearchPlan, started time.Time, res refine.Result) error {
	planYAML, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	unresolvable, _ := json.Marshal(res.Unresolvable)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, topic, plan, started_at, stop_reason, rounds, collector_calls, elapsed_ns, unresolvable)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, plan.Topic, string(planYAML), started.UTC().Format(time.RFC3339Nano),
		string(res.StopReason), len(res.Rounds), res.CollectorCalls, int64(res.Elapsed),
		string(unresolvable),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", id, err)
	}

	if err := saveEvidence(ctx, tx, id, res.Snapshot); err != nil {
		return err
	}
	if err := saveRounds(ctx, tx, id, res.Rounds); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", id, err)
	}
	a.logger.Info("archived run",
		zap.String("run_id", id),
		zap.Int("items", len(res.Snapshot.Items)),
		zap.Int("rounds", len(res.Rounds)))
	return nil
}

func saveEvidence(ctx context.Context, tx *sql.Tx, runID string, snap evidence.Snapshot) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evidence (run_id, seq, id, source, title, url, quote, year, tags, section, supported_questions, fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing evidence insert: %w", err)
	}
	defer stmt.Close()

	for seq, item := range snap.Items {
		tagsJSON, _ := json.Marshal(item.Tags)
		questionsJSON, _ := json.Marshal(item.SupportedQuestions)
		_, err := stmt.ExecContext(ctx,
			runID, seq, item.ID, string(item.Source), item.Title, item.URL, item.Quote,
			item.Year, string(tagsJSON), item.Section, string(questionsJSON),
			evidence.Fingerprint(item),
		)
		if err != nil {
			return fmt.Errorf("inserting evidence %s: %w", item.ID, err)
		}
	}

	mstmt, err := tx.PrepareContext(ctx,
		`INSERT INTO memberships (run_id, section, seq, evidence_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing membership insert: %w", err)
	}
	defer mstmt.Close()

	for _, section := range snap.Sections() {
		for seq, id := range snap.SectionIDs(section) {
			if _, err := mstmt.ExecContext(ctx, runID, section, seq, id); err != nil {
				return fmt.Errorf("inserting membership %s/%s: %w", section, id, err)
			}
		}
	}
	return nil
}

func saveRounds(ctx context.Context, tx *sql.Tx, runID string, rounds []refine.RoundReport) error {
	for _, rr := range rounds {
		report, err := json.Marshal(rr)
		if err != nil {
			return fmt.Errorf("marshaling round %d: %w", rr.Round, err)
		}
		totals := rr.Merge.Totals()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rounds (run_id, round, inserted, deduplicated, rejected, store_size, report)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, rr.Round, totals.Inserted, totals.Deduplicated, totals.Rejected, rr.StoreSize, string(report),
		)
		if err != nil {
			return fmt.Errorf("inserting round %d: %w", rr.Round, err)
		}
		for _, g := range rr.Gaps {
			for seq, q := range g.MissingQuestions {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO gaps (run_id, round, section, seq, question) VALUES (?, ?, ?, ?, ?)`,
					runID, rr.Round, g.Section, seq, q,
				)
				if err != nil {
					return fmt.Errorf("inserting gap %s round %d: %w", g.Section, rr.Round, err)
				}
			}
		}
	}
	return nil
}

// Runs lists archived runs, newest first.
func (a *Archive) Runs(ctx context.Context) ([]Run, error) {
	rows, err := a.db.QueryContext(ctx, runSelect+` ORDER BY r.started_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns the summary of one run.
func (a *Archive) Run(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(a.db.QueryRowContext(ctx, runSelect+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

const runSelect = `SELECT r.id, r.topic, r.started_at, r.stop_reason, r.rounds, r.collector_calls,
	r.elapsed_ns, r.unresolvable,
	(SELECT count(*) FROM evidence e WHERE e.run_id = r.id)
	FROM runs r`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run          Run
		started      string
		elapsed      int64
		unresolvable sql.NullString
	)
	err := row.Scan(&run.ID, &run.Topic, &started, &run.StopReason, &run.Rounds,
		&run.CollectorCalls, &elapsed, &unresolvable, &run.Items)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parsing start time of %s: %w", run.ID, err)
	}
	run.Elapsed = time.Duration(elapsed)
	if unresolvable.Valid && unresolvable.String != "" {
		if err := json.Unmarshal([]byte(unresolvable.String), &run.Unresolvable); err != nil {
			return Run{}, fmt.Errorf("parsing unresolvable sections of %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// Plan returns the plan a run was started with.
func (a *Archive) Plan(ctx context.Context, id string) (types.ResearchPlan, error) {
	var data string
	err := a.db.QueryRowContext(ctx, `SELECT plan FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ResearchPlan{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.ResearchPlan{}, fmt.Errorf("querying plan: %w", err)
	}
	var plan types.ResearchPlan
	if err := yaml.Unmarshal([]byte(data), &plan); err != nil {
		return types.ResearchPlan{}, fmt.Errorf("parsing plan of %s: %w", id, err)
	}
	return plan, nil
}

// Snapshot loads the evidence of a run. The source and fingerprint
// indexes are rebuilt and the result is verified with evidence.Restore.
func (a *Archive) Snapshot(ctx context.Context, id string) (evidence.Snapshot, error) {
	if _, err := a.Run(ctx, id); err != nil {
		return evidence.Snapshot{}, err
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, source, title, url, quote, year, tags, section, supported_questions
		 FROM evidence WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return evidence.Snapshot{}, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	snap := evidence.Snapshot{BySection: make(map[string][]string)}
	for rows.Next() {
		var (
			item                   types.EvidenceItem
			source                 string
			url, quote             sql.NullString
			year                   sql.NullInt64
			tagsJSON, questionJSON sql.NullString
		)
		if err := rows.Scan(&item.ID, &source, &item.Title, &url, &quote, &year,
			&tagsJSON, &item.Section, &questionJSON); err != nil {
			return evidence.Snapshot{}, fmt.Errorf("scanning evidence: %w", err)
		}
		item.Source = types.SourceKind(source)
		item.URL = url.String
		item.Quote = quote.String
		item.Year = int(year.Int64)
		if tagsJSON.Valid {
			if err := json.Unmarshal([]byte(tagsJSON.String), &item.Tags); err != nil {
				return evidence.Snapshot{}, fmt.Errorf("parsing tags of %s: %w", item.ID, err)
			}
		}
		if questionJSON.Valid {
			if err := json.Unmarshal([]byte(questionJSON.String), &item.SupportedQuestions); err != nil {
				return evidence.Snapshot{}, fmt.Errorf("parsing supported questions of %s: %w", item.ID, err)
			}
		}
		snap.Items = append(snap.Items, item)
	}
	if err := rows.Err(); err != nil {
		return evidence.Snapshot{}, err
	}

	mrows, err := a.db.QueryContext(ctx,
		`SELECT section, evidence_id FROM memberships WHERE run_id = ? ORDER BY section, seq`, id)
	if err != nil {
		return evidence.Snapshot{}, fmt.Errorf("querying memberships: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var section, evID string
		if err := mrows.Scan(&section, &evID); err != nil {
			return evidence.Snapshot{}, fmt.Errorf("scanning membership: %w", err)
		}
		snap.BySection[section] = append(snap.BySection[section], evID)
	}
	if err := mrows.Err(); err != nil {
		return evidence.Snapshot{}, err
	}

	store, err := evidence.Restore(snap)
	if err != nil {
		return evidence.Snapshot{}, fmt.Errorf("restoring run %s: %w", id, err)
	}
	return store.Snapshot(), nil
}

// Rounds returns the round reports of a run in order.
func (a *Archive) Rounds(ctx context.Context, id string) ([]refine.RoundReport, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT report FROM rounds WHERE run_id = ? ORDER BY round`, id)
	if err != nil {
		return nil, fmt.Errorf("querying rounds: %w", err)
	}
	defer rows.Close()

	var out []refine.RoundReport
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		var rr refine.RoundReport
		if err := json.Unmarshal([]byte(data), &rr); err != nil {
			return nil, fmt.Errorf("parsing round report: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// GapHistory returns every missing question of every round, ordered by
// round, section and the question's plan order.
func (a *Archive) GapHistory(ctx context.Context, id string) ([]GapRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT round, section, question FROM gaps WHERE run_id = ? ORDER BY round, section, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying gaps: %w", err)
	}
	defer rows.Close()

	var out []GapRecord
	for rows.Next() {
		var g GapRecord
		if err := rows.Scan(&g.Round, &g.Section, &g.Question); err != nil {
			return nil, fmt.Errorf("scanning gap: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
