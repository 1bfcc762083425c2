// Package sqldb implements storage.Store on top of database/sql via sqlx.
// SQLite (modernc) and PostgreSQL (pgx) are supported through the dialect
// package.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage/dialect"
)

// Store is a SQL implementation of storage.Store that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres, pgx
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every pooled connection to a private :memory: database sees its own copy
	if cfg.DSN == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store, creating the file's directory when
// dbPath is a plain path.
func NewSQLite(dbPath string) (*Store, error) {
	if dbPath != "" && dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// NewPostgres creates a new PostgreSQL store using the pgx driver.
func NewPostgres(dsn string) (*Store, error) {
	return New(Config{Driver: "pgx", DSN: dsn})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			tags ` + s.dialect.TextType() + ` NOT NULL DEFAULT '[]',
			custom_fields ` + s.dialect.TextType() + ` NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS funnels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			steps ` + s.dialect.TextType() + ` NOT NULL DEFAULT '[]',
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			funnel_id TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body ` + s.dialect.TextType() + ` NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			key_hash TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			active ` + s.dialect.BooleanType() + ` NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price ` + s.dialect.FloatType() + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_created ON contacts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_category ON templates(category)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrRecordNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

type contactRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Phone        string    `db:"phone"`
	Company      string    `db:"company"`
	Source       string    `db:"source"`
	Tags         string    `db:"tags"`
	CustomFields string    `db:"custom_fields"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *contactRow) toDomain() (*domain.Contact, error) {
	c := &domain.Contact{
		ID:        r.ID,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Company:   r.Company,
		Source:    r.Source,
		Status:    domain.ContactStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(r.CustomFields), &c.CustomFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom fields: %w", err)
	}
	return c, nil
}

const contactColumns = `id, email, first_name, last_name, phone, company, source, tags, custom_fields, status, created_at, updated_at`

func (s *Store) SaveContact(ctx context.Context, c *domain.Contact) error {
	c.Email = domain.NormalizeEmail(c.Email)
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.CustomFields == nil {
		c.CustomFields = map[string]string{}
	}

	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	fields, err := json.Marshal(c.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}

	upsert := s.dialect.UpsertClause("email", []string{
		"first_name", "last_name", "phone", "company", "source",
		"tags", "custom_fields", "status", "updated_at",
	})
	query := s.dialect.Rebind(`INSERT INTO contacts (` + contactColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` + upsert)

	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.Email, c.FirstName, c.LastName, c.Phone, c.Company, c.Source,
		string(tags), string(fields), string(c.Status), c.CreatedAt.UTC(), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}

	// an existing row keeps its id and created_at; hand them back
	var stored struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	idQuery := s.dialect.Rebind(`SELECT id, created_at FROM contacts WHERE email = ?`)
	if err := s.db.GetContext(ctx, &stored, idQuery, c.Email); err != nil {
		return fmt.Errorf("failed to read saved contact: %w", err)
	}
	c.ID = stored.ID
	c.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) GetContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	email = domain.NormalizeEmail(email)
	query := s.dialect.Rebind(`SELECT ` + contactColumns + ` FROM contacts WHERE email = ?`)

	var row contactRow
	if err := s.db.GetContext(ctx, &row, query, email); err != nil {
		return nil, notFound(err, "contact", email)
	}
	return row.toDomain()
}

func (s *Store) ListContacts(ctx context.Context, opts storage.ListOptions) ([]*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts ORDER BY created_at DESC, id`
	var args []any
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	out := make([]*domain.Contact, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Funnels and campaigns
// ---------------------------------------------------------------------------

type funnelRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Status    string    `db:"status"`
	Steps     string    `db:"steps"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *funnelRow) toDomain() (*domain.Funnel, error) {
	f := &domain.Funnel{ID: r.ID, Name: r.Name, Status: r.Status, CreatedAt: r.CreatedAt}
	if err := json.Unmarshal([]byte(r.Steps), &f.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal funnel steps: %w", err)
	}
	return f, nil
}

func (s *Store) SaveFunnel(ctx context.Context, f *domain.Funnel) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Steps == nil {
		f.Steps = []domain.FunnelStep{}
	}
	steps, err := json.Marshal(f.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal funnel steps: %w", err)
	}

	query := s.dialect.Rebind(`INSERT INTO funnels (id, name, status, steps, created_at)
		VALUES (?, ?, ?, ?, ?) ` + s.dialect.UpsertClause("id", []string{"name", "status", "steps"}))
	if _, err := s.db.ExecContext(ctx, query, f.ID, f.Name, f.Status, string(steps), f.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save funnel: %w", err)
	}
	return nil
}

func (s *Store) GetFunnel(ctx context.Context, id string) (*domain.Funnel, error) {
	query := s.dialect.Rebind(`SELECT id, name, status, steps, created_at FROM funnels WHERE id = ?`)
	var row funnelRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, notFound(err, "funnel", id)
	}
	return row.toDomain()
}

func (s *Store) ListFunnels(ctx context.Context) ([]*domain.Funnel, error) {
	var rows []funnelRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, name, status, steps, created_at FROM funnels ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list funnels: %w", err)
	}
	out := make([]*domain.Funnel, 0, len(rows))
	for i := range rows {
		f, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

type campaignRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Status    string    `db:"status"`
	FunnelID  string    `db:"funnel_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) SaveCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query := s.dialect.Rebind(`INSERT INTO campaigns (id, name, status, funnel_id, created_at)
		VALUES (?, ?, ?, ?, ?) ` + s.dialect.UpsertClause("id", []string{"name", "status", "funnel_id"}))
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Status, c.FunnelID, c.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}
	return nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	var rows []campaignRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, name, status, funnel_id, created_at FROM campaigns ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	out := make([]*domain.Campaign, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.Campaign{
			ID: r.ID, Name: r.Name, Status: r.Status, FunnelID: r.FunnelID, CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func (s *Store) SaveTemplate(ctx context.Context, t *domain.Template) error {
	query := s.dialect.Rebind(`INSERT INTO templates (id, name, subject, body, category)
		VALUES (?, ?, ?, ?, ?) ` + s.dialect.UpsertClause("id", []string{"name", "subject", "body", "category"}))
	if _, err := s.db.ExecContext(ctx, query, t.ID, t.Name, t.Subject, t.Body, t.Category); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (s *Store) ListTemplates(ctx context.Context, category string) ([]*domain.Template, error) {
	query := `SELECT id, name, subject, body, category FROM templates`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY name, id`

	var out []*domain.Template
	if err := s.db.SelectContext(ctx, &out, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	if out == nil {
		out = []*domain.Template{}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// API keys and bots
// ---------------------------------------------------------------------------

func (s *Store) SaveAPIKey(ctx context.Context, k *domain.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	query := s.dialect.Rebind(`INSERT INTO api_keys (key_hash, label, active, created_at)
		VALUES (?, ?, ?, ?) ` + s.dialect.UpsertClause("key_hash", []string{"label", "active"}))
	if _, err := s.db.ExecContext(ctx, query, k.KeyHash, k.Label, k.Active, k.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := s.dialect.Rebind(`SELECT key_hash, label, active, created_at FROM api_keys WHERE key_hash = ?`)
	var k domain.APIKey
	err := s.db.QueryRowxContext(ctx, query, keyHash).Scan(&k.KeyHash, &k.Label, &k.Active, &k.CreatedAt)
	if err != nil {
		return nil, notFound(err, "api key", "")
	}
	return &k, nil
}

func (s *Store) SaveBot(ctx context.Context, b *domain.Bot) error {
	query := s.dialect.Rebind(`INSERT INTO bots (id, name, description, price)
		VALUES (?, ?, ?, ?) ` + s.dialect.UpsertClause("id", []string{"name", "description", "price"}))
	if _, err := s.db.ExecContext(ctx, query, b.ID, b.Name, b.Description, b.Price); err != nil {
		return fmt.Errorf("failed to save bot: %w", err)
	}
	return nil
}

func (s *Store) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	query := s.dialect.Rebind(`SELECT id, name, description, price FROM bots WHERE id = ?`)
	var b domain.Bot
	if err := s.db.QueryRowxContext(ctx, query, id).Scan(&b.ID, &b.Name, &b.Description, &b.Price); err != nil {
		return nil, notFound(err, "bot", id)
	}
	return &b, nil
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

func (s *Store) Analytics(ctx context.Context, since time.Time) (*domain.Analytics, error) {
	a := &domain.Analytics{ContactsByStatus: map[string]int{}}

	counts := []struct {
		name  string
		dest  *int
		query string
		args  []any
	}{
		{"contacts", &a.TotalContacts, `SELECT COUNT(*) FROM contacts`, nil},
		{"recent leads", &a.LeadsLast30Days, `SELECT COUNT(*) FROM contacts WHERE created_at >= ?`, []any{since.UTC()}},
		{"funnels", &a.TotalFunnels, `SELECT COUNT(*) FROM funnels`, nil},
		{"active funnels", &a.ActiveFunnels, `SELECT COUNT(*) FROM funnels WHERE status = ?`, []any{domain.FunnelActive}},
		{"active campaigns", &a.ActiveCampaigns, `SELECT COUNT(*) FROM campaigns WHERE status = ?`, []any{"active"}},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dest, s.dialect.Rebind(c.query), c.args...); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.name, err)
		}
	}

	var byStatus []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &byStatus, `SELECT status, COUNT(*) AS n FROM contacts GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count contacts by status: %w", err)
	}
	for _, r := range byStatus {
		a.ContactsByStatus[r.Status] = r.N
	}
	return a, nil
}
