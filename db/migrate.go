package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/janus/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// migration is one embedded schema step. Files are named NNN_name.sql and
// applied in NNN order; 000 creates the schema_migrations bookkeeping table.
type migration struct {
	version string
	file    string
}

func pendingCandidates() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "list embedded migrations")
	}
	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Newf("migration %s has no version prefix", name)
		}
		out = append(out, migration{version: version, file: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func applied(conn *sql.DB, version string) (bool, error) {
	var n int
	err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&n)
	if err != nil {
		// before 000 has run the table does not exist
		if version == "000" && !IsClosed(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "check migration %s", version)
	}
	return n > 0, nil
}

func apply(conn *sql.DB, m migration) error {
	body, err := migrationFS.ReadFile(path.Join(migrationDir, m.file))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}
	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", m.file)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.file)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.file)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.file)
}

// Migrate brings the journal schema up to date. A nil logger runs silently.
func Migrate(conn *sql.DB, log *zap.SugaredLogger) error {
	all, err := pendingCandidates()
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range all {
		done, err := applied(conn, m.version)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if log != nil {
			log.Infow("Applying migration", "migration", m.file)
		}
		if err := apply(conn, m); err != nil {
			return err
		}
		ran++
	}

	if log != nil {
		log.Debugw("Journal schema up to date", "applied", ran, "known", len(all))
	}
	return nil
}
