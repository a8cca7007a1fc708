package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"focusquest/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// EntryFilters narrows journal listings. Zero values match everything.
type EntryFilters struct {
	Type      string
	SessionID int64
	TaskID    int64
}

const entryColumns = `id,ts,type,session_id,task_id,payload_json`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (domain.JournalEntry, error) {
	var e domain.JournalEntry
	var sessionID, taskID sql.NullInt64
	var payload sql.NullString
	if err := s.Scan(&e.ID, &e.TS, &e.Type, &sessionID, &taskID, &payload); err != nil {
		return e, err
	}
	if sessionID.Valid {
		v := sessionID.Int64
		e.SessionID = &v
	}
	if taskID.Valid {
		v := taskID.Int64
		e.TaskID = &v
	}
	if payload.Valid {
		e.Payload = payload.String
	}
	return e, nil
}

func (r Repo) GetEntry(ctx context.Context, id int64) (domain.JournalEntry, error) {
	e, err := scanEntry(r.DB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM journal WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) LatestEntries(ctx context.Context, limit int, f EntryFilters) ([]domain.JournalEntry, error) {
	return r.LatestEntriesFrom(ctx, limit, 0, f)
}

// LatestEntriesFrom returns entries newest first with IDs below the cursor.
func (r Repo) LatestEntriesFrom(ctx context.Context, limit int, cursor int64, f EntryFilters) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses, args := f.where()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM journal WHERE %s ORDER BY id DESC LIMIT ?`, entryColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.query(ctx, query, args...)
}

// EntriesAfter returns entries with IDs greater than the cursor in ascending order.
func (r Repo) EntriesAfter(ctx context.Context, limit int, cursor int64, f EntryFilters) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := f.where()
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM journal WHERE %s ORDER BY id ASC LIMIT ?`, entryColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.query(ctx, query, args...)
}

func (r Repo) LatestEntryID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM journal`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// CountByType summarizes the journal per entry type.
func (r Repo) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type, COUNT(*) FROM journal GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

func (f EntryFilters) where() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.SessionID > 0 {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.TaskID > 0 {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	return clauses, args
}

func (r Repo) query(ctx context.Context, query string, args ...any) ([]domain.JournalEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
