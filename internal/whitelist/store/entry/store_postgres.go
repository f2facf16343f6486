package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatelist/internal/whitelist/models"
	"gatelist/pkg/platform/tx"
	"gatelist/pkg/requestcontext"

	"github.com/lib/pq"
)

// PostgresStore persists whitelist entries in PostgreSQL.
// This store is pure I/O; format rules, cache ownership and dedup belong in the service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed entry store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, name, identifier, added_by_name, added_by_identifier, added_at, source, active, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// q returns the transaction carried in ctx when present, otherwise the pool.
// Callers that span several store operations wrap them with tx.WithTx.
func (s *PostgresStore) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, entry *models.WhitelistEntry) (int64, error) {
	if entry == nil {
		return 0, fmt.Errorf("whitelist entry is required")
	}
	now := requestcontext.Now(ctx)
	query := `
		INSERT INTO whitelist_entries (name, identifier, added_by_name, added_by_identifier, added_at, source, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)
		RETURNING id, created_at, updated_at
	`
	err := s.q(ctx).QueryRowContext(ctx, query,
		entry.Name,
		nullString(entry.Identifier),
		entry.AddedByName,
		entry.AddedByIdentifier,
		entry.AddedAt,
		string(entry.Source),
		now,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert whitelist entry: %w", err)
	}
	return entry.ID, nil
}

func (s *PostgresStore) GetByIdentifier(ctx context.Context, identifier string) (*models.WhitelistEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM whitelist_entries
		WHERE identifier = $1 AND active
	`
	entry, err := scanEntry(s.q(ctx).QueryRowContext(ctx, query, identifier))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry by identifier: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) GetByName(ctx context.Context, name string) (*models.WhitelistEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM whitelist_entries
		WHERE lower(name) = lower($1) AND active
	`
	entry, err := scanEntry(s.q(ctx).QueryRowContext(ctx, query, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry by name: %w", err)
	}
	return entry, nil
}

// CompleteIdentifier is the deferred-completion write. The WHERE clause makes
// it idempotent: once the identifier is set the row no longer matches.
func (s *PostgresStore) CompleteIdentifier(ctx context.Context, name, identifier string) (bool, error) {
	now := requestcontext.Now(ctx)
	query := `
		UPDATE whitelist_entries
		SET identifier = $2, updated_at = $3
		WHERE lower(name) = lower($1)
		  AND identifier IS NULL
		  AND active
	`
	result, err := s.q(ctx).ExecContext(ctx, query, name, identifier, now)
	if err != nil {
		return false, fmt.Errorf("complete identifier: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete identifier rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) DeleteByIdentifier(ctx context.Context, identifier string) (bool, error) {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM whitelist_entries WHERE identifier = $1 AND active`, identifier)
	if err != nil {
		return false, fmt.Errorf("delete entry by identifier: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entry rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) DeleteByName(ctx context.Context, name string) (bool, error) {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM whitelist_entries WHERE lower(name) = lower($1) AND active`, name)
	if err != nil {
		return false, fmt.Errorf("delete entry by name: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entry rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.WhitelistEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM whitelist_entries
		WHERE active
		ORDER BY id
	`
	rows, err := s.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.WhitelistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) ListPaginated(ctx context.Context, filter models.EntryFilter, sort models.EntrySort, limit, offset int) ([]*models.WhitelistEntry, int64, error) {
	where, args := buildFilter(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM whitelist_entries ` + where
	if err := s.q(ctx).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	// Sort input is constrained to the SortField whitelist; anything else
	// falls back to creation time descending.
	field := sort.Field
	if !field.IsValid() {
		field = models.SortByCreatedAt
	}
	direction := "DESC"
	if sort.Ascending && sort.Field.IsValid() {
		direction = "ASC"
	}

	pageQuery := fmt.Sprintf(`SELECT %s FROM whitelist_entries %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		entryColumns, where, field, direction, direction, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.q(ctx).QueryContext(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries page: %w", err)
	}
	defer rows.Close()

	var entries []*models.WhitelistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan entry page: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate entries page: %w", err)
	}
	return entries, total, nil
}

// ApplyBatchAdd inserts all entries inside one transaction. Rows colliding
// with an active name or identifier are skipped via ON CONFLICT DO NOTHING and
// flagged false; a store-level failure rolls the whole batch back.
func (s *PostgresStore) ApplyBatchAdd(ctx context.Context, entries []*models.WhitelistEntry) ([]bool, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch add: %w", err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	now := requestcontext.Now(ctx)
	applied := make([]bool, len(entries))
	query := `
		INSERT INTO whitelist_entries (name, identifier, added_by_name, added_by_identifier, added_at, source, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at
	`
	for i, entry := range entries {
		if entry == nil {
			continue
		}
		err := txn.QueryRowContext(ctx, query,
			entry.Name,
			nullString(entry.Identifier),
			entry.AddedByName,
			entry.AddedByIdentifier,
			entry.AddedAt,
			string(entry.Source),
			now,
		).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("batch add entry %q: %w", entry.Name, err)
		}
		applied[i] = true
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch add: %w", err)
	}
	return applied, nil
}

// ApplyBatchRemove deletes all matched entries inside one transaction,
// matching by identifier when present and by name otherwise.
func (s *PostgresStore) ApplyBatchRemove(ctx context.Context, entries []models.BatchEntry) ([]bool, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch remove: %w", err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	removed := make([]bool, len(entries))
	for i, entry := range entries {
		var result sql.Result
		if entry.Identifier != "" {
			result, err = txn.ExecContext(ctx, `DELETE FROM whitelist_entries WHERE identifier = $1 AND active`, entry.Identifier)
		} else {
			result, err = txn.ExecContext(ctx, `DELETE FROM whitelist_entries WHERE lower(name) = lower($1) AND active`, entry.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("batch remove entry %q: %w", entry.Name, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("batch remove rows affected: %w", err)
		}
		removed[i] = rows > 0
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch remove: %w", err)
	}
	return removed, nil
}

// buildFilter renders the conjunctive WHERE clause with positional args.
// Every predicate is parameterized; column names never come from input.
func buildFilter(filter models.EntryFilter) (string, []any) {
	clauses := []string{"active"}
	var args []any

	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.NameContains != "" {
		clauses = append(clauses, "name ILIKE "+arg("%"+filter.NameContains+"%"))
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = "+arg(string(filter.Source)))
	}
	if filter.AddedByContains != "" {
		clauses = append(clauses, "added_by_name ILIKE "+arg("%"+filter.AddedByContains+"%"))
	}
	if !filter.AddedAfter.IsZero() {
		clauses = append(clauses, "added_at >= "+arg(filter.AddedAfter))
	}
	if !filter.AddedBefore.IsZero() {
		clauses = append(clauses, "added_at <= "+arg(filter.AddedBefore))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

type entryRow interface {
	Scan(dest ...any) error
}

func scanEntry(row entryRow) (*models.WhitelistEntry, error) {
	var entry models.WhitelistEntry
	var identifier sql.NullString
	var source string
	if err := row.Scan(
		&entry.ID,
		&entry.Name,
		&identifier,
		&entry.AddedByName,
		&entry.AddedByIdentifier,
		&entry.AddedAt,
		&source,
		&entry.Active,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.Source = models.Source(source)
	if identifier.Valid {
		entry.Identifier = &identifier.String
	}
	return &entry, nil
}

func nullString(value *string) sql.NullString {
	if value == nil || *value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation, used by callers that race concurrent admissions.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
