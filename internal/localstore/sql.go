package localstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL
	_ "github.com/lib/pq"              // PostgreSQL
	_ "github.com/mattn/go-sqlite3"    // SQLite

	"github.com/systmms/vaultsync/pkg/vault"
)

// driverMap maps configured driver names to database/sql driver names.
var driverMap = map[string]string{
	"sqlite3":    "sqlite3",
	"sqlite":     "sqlite3",
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sections (
		section_id VARCHAR(255) PRIMARY KEY,
		title TEXT NOT NULL,
		ord INTEGER NOT NULL,
		collapsed INTEGER NOT NULL,
		md_zone VARCHAR(255) NOT NULL,
		md_owner VARCHAR(255) NOT NULL,
		md_kind VARCHAR(64) NOT NULL,
		md_tag VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		secret VARCHAR(255) PRIMARY KEY,
		data TEXT NOT NULL,
		md_zone VARCHAR(255) NOT NULL,
		md_owner VARCHAR(255) NOT NULL,
		md_kind VARCHAR(64) NOT NULL,
		md_tag VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vault_info (
		id INTEGER PRIMARY KEY,
		version BIGINT NOT NULL,
		encryption VARCHAR(16) NOT NULL,
		allowed_devices TEXT NOT NULL,
		reference TEXT NOT NULL,
		md_zone VARCHAR(255) NOT NULL,
		md_owner VARCHAR(255) NOT NULL,
		md_kind VARCHAR(64) NOT NULL,
		md_tag VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pending_deletions (
		family VARCHAR(16) NOT NULL,
		entity_id VARCHAR(255) NOT NULL,
		kind VARCHAR(64) NOT NULL,
		PRIMARY KEY (family, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(64) PRIMARY KEY,
		secret VARCHAR(255) NOT NULL,
		action VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// sqlitePragmas configure SQLite for a single writer with concurrent readers.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// SQLStore is a Repository backed by database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens the database, applies the schema and returns a store. The
// driver is one of the keys of driverMap.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	name, ok := driverMap[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if name == "sqlite3" {
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if name == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
			}
		}
	}

	s := newSQLStore(db, name)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func ensureSQLiteDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders for drivers that use numbered ones.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execFunc func(query string, args ...any) error

func (s *SQLStore) withTx(ctx context.Context, fn func(exec func(query string, args ...any) error) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, s.rebind(query), args...)
		return err
	}
	if err := fn(exec); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type metadataColumns struct {
	zone, owner, kind, tag string
}

func (c metadataColumns) metadata() vault.Metadata {
	if c.tag == "" {
		return vault.Metadata{}
	}
	return vault.Metadata{
		Zone: vault.ZoneID{Name: c.zone, Owner: c.owner},
		Kind: vault.RecordKind(c.kind),
		Tag:  c.tag,
	}
}

func metadataArgs(md vault.Metadata) []any {
	if md.IsZero() {
		return []any{"", "", "", ""}
	}
	return []any{md.Zone.Name, md.Zone.Owner, string(md.Kind), md.Tag}
}

const sectionColumns = "section_id, title, ord, collapsed, md_zone, md_owner, md_kind, md_tag"

func scanSection(scan func(dest ...any) error) (vault.Stored[vault.Section], error) {
	var (
		sec       vault.Section
		collapsed int
		md        metadataColumns
	)
	if err := scan(&sec.SectionID, &sec.Title, &sec.Order, &collapsed, &md.zone, &md.owner, &md.kind, &md.tag); err != nil {
		return vault.Stored[vault.Section]{}, err
	}
	sec.Collapsed = collapsed != 0
	return vault.Stored[vault.Section]{Value: sec, Metadata: md.metadata()}, nil
}

func (s *SQLStore) Sections(ctx context.Context) ([]vault.Stored[vault.Section], error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sectionColumns+" FROM sections")
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var out []vault.Stored[vault.Section]
	for rows.Next() {
		sec, err := scanSection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSections(out)
	return out, nil
}

func (s *SQLStore) Section(ctx context.Context, id string) (vault.Stored[vault.Section], bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+sectionColumns+" FROM sections WHERE section_id = ?"), id)
	sec, err := scanSection(row.Scan)
	if err == sql.ErrNoRows {
		return vault.Stored[vault.Section]{}, false, nil
	}
	if err != nil {
		return vault.Stored[vault.Section]{}, false, fmt.Errorf("failed to load section: %w", err)
	}
	return sec, true, nil
}

func (s *SQLStore) SaveSections(ctx context.Context, upserts []vault.Stored[vault.Section], deletes []string) error {
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		return writeSections(exec, upserts, deletes)
	})
}

func writeSections(exec execFunc, upserts []vault.Stored[vault.Section], deletes []string) error {
	for _, id := range deletes {
		if err := exec("DELETE FROM sections WHERE section_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete section: %w", err)
		}
	}
	for _, st := range upserts {
		sec := st.Value
		if err := exec("DELETE FROM sections WHERE section_id = ?", sec.SectionID); err != nil {
			return fmt.Errorf("failed to replace section: %w", err)
		}
		collapsed := 0
		if sec.Collapsed {
			collapsed = 1
		}
		args := append([]any{sec.SectionID, sec.Title, sec.Order, collapsed}, metadataArgs(st.Metadata)...)
		if err := exec("INSERT INTO sections ("+sectionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)", args...); err != nil {
			return fmt.Errorf("failed to insert section: %w", err)
		}
	}
	return nil
}

const serviceColumns = "secret, data, md_zone, md_owner, md_kind, md_tag"

func scanService(scan func(dest ...any) error) (vault.Stored[vault.Service], error) {
	var (
		secret string
		data   string
		md     metadataColumns
	)
	if err := scan(&secret, &data, &md.zone, &md.owner, &md.kind, &md.tag); err != nil {
		return vault.Stored[vault.Service]{}, err
	}
	var svc vault.Service
	if err := json.Unmarshal([]byte(data), &svc); err != nil {
		return vault.Stored[vault.Service]{}, fmt.Errorf("corrupt service row: %w", err)
	}
	svc.Secret = secret
	return vault.Stored[vault.Service]{Value: svc, Metadata: md.metadata()}, nil
}

func (s *SQLStore) Services(ctx context.Context) ([]vault.Stored[vault.Service], error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+serviceColumns+" FROM services")
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var out []vault.Stored[vault.Service]
	for rows.Next() {
		svc, err := scanService(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortServices(out)
	return out, nil
}

func (s *SQLStore) Service(ctx context.Context, secret string) (vault.Stored[vault.Service], bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+serviceColumns+" FROM services WHERE secret = ?"), secret)
	svc, err := scanService(row.Scan)
	if err == sql.ErrNoRows {
		return vault.Stored[vault.Service]{}, false, nil
	}
	if err != nil {
		return vault.Stored[vault.Service]{}, false, fmt.Errorf("failed to load service: %w", err)
	}
	return svc, true, nil
}

func (s *SQLStore) SaveServices(ctx context.Context, upserts []vault.Stored[vault.Service], deletes []string) error {
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		return writeServices(exec, upserts, deletes)
	})
}

func writeServices(exec execFunc, upserts []vault.Stored[vault.Service], deletes []string) error {
	for _, secret := range deletes {
		if err := exec("DELETE FROM services WHERE secret = ?", secret); err != nil {
			return fmt.Errorf("failed to delete service: %w", err)
		}
	}
	for _, st := range upserts {
		data, err := json.Marshal(st.Value)
		if err != nil {
			return fmt.Errorf("failed to encode service: %w", err)
		}
		if err := exec("DELETE FROM services WHERE secret = ?", st.Value.Secret); err != nil {
			return fmt.Errorf("failed to replace service: %w", err)
		}
		args := append([]any{st.Value.Secret, string(data)}, metadataArgs(st.Metadata)...)
		if err := exec("INSERT INTO services ("+serviceColumns+") VALUES (?, ?, ?, ?, ?, ?)", args...); err != nil {
			return fmt.Errorf("failed to insert service: %w", err)
		}
	}
	return nil
}

const infoColumns = "version, encryption, allowed_devices, reference, md_zone, md_owner, md_kind, md_tag"

func (s *SQLStore) Info(ctx context.Context) (vault.Stored[vault.Info], bool, error) {
	var (
		info    vault.Info
		enc     string
		devices string
		ref     string
		md      metadataColumns
	)
	err := s.db.QueryRowContext(ctx, "SELECT "+infoColumns+" FROM vault_info WHERE id = 1").
		Scan(&info.Version, &enc, &devices, &ref, &md.zone, &md.owner, &md.kind, &md.tag)
	if err == sql.ErrNoRows {
		return vault.Stored[vault.Info]{}, false, nil
	}
	if err != nil {
		return vault.Stored[vault.Info]{}, false, fmt.Errorf("failed to load info: %w", err)
	}
	info.Encryption = vault.EncryptionType(enc)
	if devices != "" {
		if err := json.Unmarshal([]byte(devices), &info.AllowedDevices); err != nil {
			return vault.Stored[vault.Info]{}, false, fmt.Errorf("corrupt info row: %w", err)
		}
	}
	if ref != "" {
		info.EncryptionReference, err = base64.StdEncoding.DecodeString(ref)
		if err != nil {
			return vault.Stored[vault.Info]{}, false, fmt.Errorf("corrupt info row: %w", err)
		}
	}
	return vault.Stored[vault.Info]{Value: info, Metadata: md.metadata()}, true, nil
}

func (s *SQLStore) SaveInfo(ctx context.Context, info *vault.Stored[vault.Info]) error {
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		return writeInfo(exec, info)
	})
}

func writeInfo(exec execFunc, info *vault.Stored[vault.Info]) error {
	if err := exec("DELETE FROM vault_info WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to replace info: %w", err)
	}
	if info == nil {
		return nil
	}
	devices := ""
	if info.Value.AllowedDevices != nil {
		data, err := json.Marshal(info.Value.AllowedDevices)
		if err != nil {
			return err
		}
		devices = string(data)
	}
	args := append([]any{
		info.Value.Version,
		string(info.Value.Encryption),
		devices,
		base64.StdEncoding.EncodeToString(info.Value.EncryptionReference),
	}, metadataArgs(info.Metadata)...)
	if err := exec("INSERT INTO vault_info (id, "+infoColumns+") VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)", args...); err != nil {
		return fmt.Errorf("failed to insert info: %w", err)
	}
	return nil
}

// SaveBatch writes every part of b in one transaction.
func (s *SQLStore) SaveBatch(ctx context.Context, b Batch) error {
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		if b.hasSections() {
			if err := writeSections(exec, b.Sections, b.SectionDeletes); err != nil {
				return err
			}
		}
		if b.hasServices() {
			if err := writeServices(exec, b.Services, b.ServiceDeletes); err != nil {
				return err
			}
		}
		if b.ReplaceInfo {
			return writeInfo(exec, b.Info)
		}
		return nil
	})
}

func (s *SQLStore) PendingDeletions(ctx context.Context) ([]vault.EntityReference, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entity_id, kind FROM pending_deletions ORDER BY family, entity_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deletions: %w", err)
	}
	defer rows.Close()

	var out []vault.EntityReference
	for rows.Next() {
		var id, kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan pending deletion: %w", err)
		}
		out = append(out, vault.EntityReference{EntityID: id, Kind: vault.RecordKind(kind)})
	}
	return out, rows.Err()
}

func (s *SQLStore) AddPendingDeletion(ctx context.Context, ref vault.EntityReference) error {
	identity := ref.Identity()
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		if err := exec("DELETE FROM pending_deletions WHERE family = ? AND entity_id = ?", string(identity.Family), identity.Key); err != nil {
			return fmt.Errorf("failed to replace pending deletion: %w", err)
		}
		if err := exec("INSERT INTO pending_deletions (family, entity_id, kind) VALUES (?, ?, ?)", string(identity.Family), identity.Key, string(ref.Kind)); err != nil {
			return fmt.Errorf("failed to insert pending deletion: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) ClearPendingDeletions(ctx context.Context, refs []vault.EntityReference) error {
	if len(refs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		for _, ref := range refs {
			identity := ref.Identity()
			if err := exec("DELETE FROM pending_deletions WHERE family = ? AND entity_id = ?", string(identity.Family), identity.Key); err != nil {
				return fmt.Errorf("failed to clear pending deletion: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO audit_log (id, secret, action, created_at) VALUES (?, ?, ?, ?)"),
		entry.ID, entry.Secret, entry.Action, entry.At.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *SQLStore) Logs(ctx context.Context, secret string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT id, secret, action, created_at FROM audit_log WHERE secret = ? ORDER BY created_at"), secret)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e  LogEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &e.Secret, &e.Action, &at); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteLogs(ctx context.Context, secret string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM audit_log WHERE secret = ?"), secret); err != nil {
		return fmt.Errorf("failed to delete logs: %w", err)
	}
	return nil
}

func (s *SQLStore) ClearMetadata(ctx context.Context) error {
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		for _, table := range []string{"sections", "services", "vault_info"} {
			if err := exec("UPDATE " + table + " SET md_zone = '', md_owner = '', md_kind = '', md_tag = ''"); err != nil {
				return fmt.Errorf("failed to clear %s metadata: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Purge(ctx context.Context) error {
	return s.withTx(ctx, func(exec func(string, ...any) error) error {
		for _, table := range []string{"sections", "services", "vault_info"} {
			if err := exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("failed to purge %s: %w", table, err)
			}
		}
		return nil
	})
}
