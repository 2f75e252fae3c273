package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Migrate runs all database migrations
func (db *DB) Migrate(ctx context.Context) error {
	log.Info().Msg("Running database migrations")

	// Create migrations table if not exists
	_, err := db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")

		if err := db.Transaction(ctx, func(tx *DB) error {
			statements := splitSQLStatements(m.SQL)
			for i, stmt := range statements {
				if _, err := tx.exec(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d statement %d failed: %w", m.Version, i+1, err)
				}
			}

			if _, err := tx.exec(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	log.Info().Msg("Database migrations complete")
	return nil
}

// SchemaVersion returns the highest applied migration version
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.queryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// splitSQLStatements splits a SQL string into individual statements.
// It handles comments and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	for line := range strings.SplitSeq(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		SQL: `
			-- Employees and their reporting line
			CREATE TABLE users (
				id INTEGER PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				name TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'EMPLOYEE',
				manager_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
				department TEXT NOT NULL DEFAULT '',
				position TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				hire_date TEXT,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_users_manager ON users(manager_id);

			-- Runtime settings (JSON values)
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE TABLE password_reset_tokens (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token_hash TEXT NOT NULL UNIQUE,
				expires_at TIMESTAMP NOT NULL,
				used_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			);

			CREATE TABLE projects (
				id INTEGER PRIMARY KEY,
				code TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'ACTIVE',
				owner_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
				start_date TEXT,
				end_date TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE TABLE project_members (
				project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				added_at TIMESTAMP NOT NULL,
				PRIMARY KEY (project_id, user_id)
			);

			CREATE TABLE sprints (
				id INTEGER PRIMARY KEY,
				project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				goal TEXT NOT NULL DEFAULT '',
				start_date TEXT NOT NULL,
				end_date TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'PLANNED',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_sprints_project ON sprints(project_id);

			CREATE TABLE tasks (
				id INTEGER PRIMARY KEY,
				project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				sprint_id INTEGER REFERENCES sprints(id) ON DELETE SET NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'TODO',
				priority TEXT NOT NULL DEFAULT 'MEDIUM',
				assignee_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
				reporter_id INTEGER NOT NULL REFERENCES users(id),
				estimate_hours TEXT,
				due_date TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_tasks_project ON tasks(project_id);
			CREATE INDEX idx_tasks_assignee ON tasks(assignee_id);

			CREATE TABLE task_comments (
				id INTEGER PRIMARY KEY,
				task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				author_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				body TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_task_comments_task ON task_comments(task_id);

			-- Hours are decimal text
			CREATE TABLE time_entries (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				project_id INTEGER NOT NULL REFERENCES projects(id),
				task_id INTEGER REFERENCES tasks(id) ON DELETE SET NULL,
				date TEXT NOT NULL,
				hours TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'DRAFT',
				reviewer_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
				review_note TEXT NOT NULL DEFAULT '',
				reviewed_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_time_entries_user_date ON time_entries(user_id, date);
			CREATE INDEX idx_time_entries_project ON time_entries(project_id);

			CREATE TABLE leave_types (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				default_days TEXT NOT NULL DEFAULT '0',
				paid BOOLEAN NOT NULL DEFAULT true,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP NOT NULL
			);

			CREATE TABLE leave_balances (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				leave_type_id INTEGER NOT NULL REFERENCES leave_types(id) ON DELETE CASCADE,
				year INTEGER NOT NULL,
				allocated TEXT NOT NULL DEFAULT '0',
				used TEXT NOT NULL DEFAULT '0',
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (user_id, leave_type_id, year)
			);

			CREATE TABLE leave_requests (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				leave_type_id INTEGER NOT NULL REFERENCES leave_types(id),
				start_date TEXT NOT NULL,
				end_date TEXT NOT NULL,
				half_day BOOLEAN NOT NULL DEFAULT false,
				days TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'PENDING',
				reviewer_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
				review_note TEXT NOT NULL DEFAULT '',
				reviewed_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_leave_requests_user ON leave_requests(user_id, start_date);
			CREATE INDEX idx_leave_requests_status ON leave_requests(status);

			CREATE TABLE holidays (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				date TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP NOT NULL
			);

			CREATE TABLE documents (
				id TEXT PRIMARY KEY,
				owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				uploaded_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
				name TEXT NOT NULL,
				content_type TEXT NOT NULL,
				size INTEGER NOT NULL DEFAULT 0,
				category TEXT NOT NULL DEFAULT 'OTHER',
				object_key TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'PENDING',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_documents_owner ON documents(owner_id);

			CREATE TABLE notifications (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL DEFAULT '',
				link TEXT NOT NULL DEFAULT '',
				read_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_notifications_user ON notifications(user_id, created_at);
		`,
	},
	{
		Version: 2,
		Name:    "default_leave_types",
		SQL: `
			INSERT INTO leave_types (name, default_days, paid, active, created_at) VALUES ('Annual Leave', '20', true, true, CURRENT_TIMESTAMP);
			INSERT INTO leave_types (name, default_days, paid, active, created_at) VALUES ('Sick Leave', '10', true, true, CURRENT_TIMESTAMP);
			INSERT INTO leave_types (name, default_days, paid, active, created_at) VALUES ('Unpaid Leave', '0', false, true, CURRENT_TIMESTAMP);
		`,
	},
}
