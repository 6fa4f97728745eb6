// SQL-backed store shared by the SQLite and PostgreSQL dialects. Dialect
// differences live in the migrations and in the placeholder rebinding done
// by sqlx.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Palabra/internal/models"
	"github.com/jmoiron/sqlx"
)

// SQLStore persists learner state through sqlx.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// Compile-time check that SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// userRow mirrors the users table.
type userRow struct {
	Phone       string         `db:"phone"`
	Name        string         `db:"name"`
	Location    string         `db:"location"`
	Age         int            `db:"age"`
	Proficiency string         `db:"proficiency"`
	Interests   string         `db:"interests"`
	Stage       int            `db:"stage"`
	QuizActive  bool           `db:"quiz_active"`
	Quiz        sql.NullString `db:"quiz"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

const userColumns = `phone, name, location, age, proficiency, interests, stage, quiz_active, quiz, created_at, updated_at`

func (r userRow) toProfile() (*models.UserProfile, error) {
	p := &models.UserProfile{
		Phone:       r.Phone,
		Name:        r.Name,
		Location:    r.Location,
		Age:         r.Age,
		Proficiency: models.Proficiency(r.Proficiency),
		Stage:       models.Stage(r.Stage),
		QuizActive:  r.QuizActive,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.Interests != "" {
		if err := json.Unmarshal([]byte(r.Interests), &p.Interests); err != nil {
			return nil, fmt.Errorf("failed to decode interests for %s: %w", r.Phone, err)
		}
	}
	if r.Quiz.Valid && r.Quiz.String != "" {
		var round models.QuizRound
		if err := json.Unmarshal([]byte(r.Quiz.String), &round); err != nil {
			return nil, fmt.Errorf("failed to decode quiz for %s: %w", r.Phone, err)
		}
		p.Quiz = &round
	}
	return p, nil
}

func newSQLStore(driver, dsn, migrations string, configure func(*sqlx.DB)) (*SQLStore, error) {
	slog.Debug("Opening SQL database connection", "driver", driver)
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		slog.Error("Failed to open SQL connection", "driver", driver, "error", err)
		return nil, err
	}
	if configure != nil {
		configure(db)
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQL ping failed", "driver", driver, "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running SQL migrations", "driver", driver)
	if _, err := db.Exec(migrations); err != nil {
		slog.Error("Failed to run migrations", "driver", driver, "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQL migrations applied successfully", "driver", driver)
	return &SQLStore{db: db, driver: driver}, nil
}

func (s *SQLStore) getUser(ctx context.Context, phone string) (*models.UserProfile, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE phone = ?`), phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", phone, err)
	}
	return row.toProfile()
}

func (s *SQLStore) GetOrCreateUser(ctx context.Context, phone string) (*models.UserProfile, error) {
	insert := s.db.Rebind(`INSERT INTO users (phone, stage, quiz_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (phone) DO NOTHING`)
	// A concurrent DeleteUser can remove the row between insert and select; retry once.
	for attempt := 0; ; attempt++ {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx, insert, phone, int(models.StageNotStarted), false, now, now)
		if err != nil {
			slog.Error("SQLStore GetOrCreateUser insert failed", "error", err, "phone", phone)
			return nil, fmt.Errorf("failed to create user %s: %w", phone, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			slog.Debug("SQLStore GetOrCreateUser created user", "phone", phone)
		}
		p, err := s.getUser(ctx, phone)
		if errors.Is(err, ErrNotFound) && attempt == 0 {
			continue
		}
		return p, err
	}
}

func (s *SQLStore) UpdateUser(ctx context.Context, phone string, update models.ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if update.Name != nil {
		set("name", *update.Name)
	}
	if update.Location != nil {
		set("location", *update.Location)
	}
	if update.Age != nil {
		set("age", *update.Age)
	}
	if update.Proficiency != nil {
		set("proficiency", string(*update.Proficiency))
	}
	if update.Interests != nil {
		b, err := json.Marshal(update.Interests)
		if err != nil {
			return fmt.Errorf("failed to encode interests: %w", err)
		}
		set("interests", string(b))
	}
	if update.Stage != nil {
		set("stage", int(*update.Stage))
	}
	if update.StartQuiz != nil {
		if err := update.StartQuiz.Validate(); err != nil {
			return err
		}
		b, err := json.Marshal(update.StartQuiz)
		if err != nil {
			return fmt.Errorf("failed to encode quiz: %w", err)
		}
		set("quiz_active", true)
		set("quiz", string(b))
	}
	if update.ClearQuiz {
		set("quiz_active", false)
		set("quiz", nil)
	}
	set("updated_at", time.Now().UTC())

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE phone = ?`
	args = append(args, phone)
	if update.ExpectStage != nil {
		query += ` AND stage = ?`
		args = append(args, int(*update.ExpectStage))
	}
	if update.Stage != nil {
		query += ` AND stage <= ?`
		args = append(args, int(*update.Stage))
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		slog.Error("SQLStore UpdateUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to update user %s: %w", phone, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched; work out which guard rejected the update.
	current, err := s.getUser(ctx, phone)
	if err != nil {
		return err
	}
	if update.ExpectStage != nil && current.Stage != *update.ExpectStage {
		return ErrStageConflict
	}
	if update.Stage != nil && *update.Stage < current.Stage {
		return ErrStageRegression
	}
	return fmt.Errorf("update of user %s matched no rows", phone)
}

func (s *SQLStore) AppendLearned(ctx context.Context, phone, term string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO learned_words (phone, term, created_at) VALUES (?, ?, ?) ON CONFLICT (phone, term) DO NOTHING`),
		phone, term, time.Now().UTC())
	if err != nil {
		slog.Error("SQLStore AppendLearned failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to append learned term for %s: %w", phone, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) AppendSuggested(ctx context.Context, phone, text string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO suggested_words (phone, body, created_at) VALUES (?, ?, ?)`),
		phone, text, time.Now().UTC())
	if err != nil {
		slog.Error("SQLStore AppendSuggested failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to append suggestion for %s: %w", phone, err)
	}
	return nil
}

func (s *SQLStore) ListLearned(ctx context.Context, phone string) ([]string, error) {
	var terms []string
	if err := s.db.SelectContext(ctx, &terms, s.db.Rebind(
		`SELECT term FROM learned_words WHERE phone = ? ORDER BY id`), phone); err != nil {
		return nil, fmt.Errorf("failed to list learned terms for %s: %w", phone, err)
	}
	return terms, nil
}

func (s *SQLStore) ListSuggested(ctx context.Context, phone string) ([]string, error) {
	var batches []string
	if err := s.db.SelectContext(ctx, &batches, s.db.Rebind(
		`SELECT body FROM suggested_words WHERE phone = ? ORDER BY id`), phone); err != nil {
		return nil, fmt.Errorf("failed to list suggestions for %s: %w", phone, err)
	}
	return batches, nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, phone string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM learned_words WHERE phone = ?`,
		`DELETE FROM suggested_words WHERE phone = ?`,
		`DELETE FROM users WHERE phone = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), phone); err != nil {
			slog.Error("SQLStore DeleteUser failed", "error", err, "phone", phone)
			return fmt.Errorf("failed to delete user %s: %w", phone, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", phone, err)
	}
	slog.Debug("SQLStore DeleteUser succeeded", "phone", phone)
	return nil
}

func (s *SQLStore) ListCompletedUsers(ctx context.Context) ([]models.UserProfile, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE stage = ? ORDER BY phone`), int(models.StageCompleted)); err != nil {
		return nil, fmt.Errorf("failed to list completed users: %w", err)
	}
	out := make([]models.UserProfile, 0, len(rows))
	for _, r := range rows {
		p, err := r.toProfile()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *SQLStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO inbound_dedup (message_id, phone, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`),
		messageID, phone, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Close() error {
	slog.Debug("Closing SQL store", "driver", s.driver)
	return s.db.Close()
}
