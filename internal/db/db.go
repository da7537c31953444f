package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"course-rag/internal/config"
	"course-rag/internal/models"
)

var ErrNotFound = errors.New("not found")

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string           `bun:"id,pk"`
	Title         string           `bun:"title,notnull"`
	Description   string           `bun:"description"`
	Sections      []models.Section `bun:"sections,type:jsonb"`
	UpdatedAt     time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type Reference struct {
	bun.BaseModel `bun:"table:reference_files,alias:r"`
	ID            string    `bun:"id,pk"`
	UserID        string    `bun:"user_id,notnull"`
	FileName      string    `bun:"file_name,notnull"`
	ExtractedText string    `bun:"extracted_text"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the configured driver. Nothing is dialed until first use.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}
	switch cfg.Driver {
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	case "pgdriver", "":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*Document)(nil), (*Reference)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	_, err := db.NewCreateIndex().
		Model((*Reference)(nil)).
		Index("reference_files_user_idx").
		Column("user_id", "created_at").
		IfNotExists().
		Exec(ctx)
	return err
}

// DropTables removes the document and reference tables with their rows.
func DropTables(ctx context.Context, db *bun.DB) error {
	for _, q := range dropTableQueries(db) {
		if _, err := q.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func dropTableQueries(db *bun.DB) []*bun.DropTableQuery {
	return []*bun.DropTableQuery{
		db.NewDropTable().Model((*Document)(nil)).IfExists(),
		db.NewDropTable().Model((*Reference)(nil)).IfExists(),
	}
}

// Repository reads and writes documents and reference files.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := new(Document)
	err := r.db.NewSelect().Model(row).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (r *Repository) ListDocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.NewSelect().Model((*Document)(nil)).Column("id").Order("id").Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return ids, nil
}

// SaveDocument inserts doc or replaces the stored row with the same id.
func (r *Repository) SaveDocument(ctx context.Context, doc *models.Document) error {
	if _, err := r.saveDocumentQuery(documentFromModel(doc)).Exec(ctx); err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *Repository) saveDocumentQuery(row *Document) *bun.InsertQuery {
	return r.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("sections = EXCLUDED.sections").
		Set("updated_at = current_timestamp")
}

func (r *Repository) SaveReference(ctx context.Context, ref *models.Reference) error {
	row := &Reference{
		ID:            ref.ID,
		UserID:        ref.UserID,
		FileName:      ref.FileName,
		ExtractedText: ref.ExtractedText,
		CreatedAt:     ref.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("save reference %s: %w", ref.ID, err)
	}
	return nil
}

// RecentReferences returns up to limit references of userID, newest first.
func (r *Repository) RecentReferences(ctx context.Context, userID string, limit int) ([]models.Reference, error) {
	var rows []Reference
	if err := r.recentReferencesQuery(&rows, userID, limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("recent references of %s: %w", userID, err)
	}
	refs := make([]models.Reference, len(rows))
	for i, row := range rows {
		refs[i] = models.Reference{
			ID:            row.ID,
			UserID:        row.UserID,
			FileName:      row.FileName,
			ExtractedText: row.ExtractedText,
			CreatedAt:     row.CreatedAt,
		}
	}
	return refs, nil
}

func (r *Repository) recentReferencesQuery(rows *[]Reference, userID string, limit int) *bun.SelectQuery {
	return r.db.NewSelect().
		Model(rows).
		Where("r.user_id = ?", userID).
		OrderExpr("r.created_at DESC").
		Limit(limit)
}

func documentFromModel(doc *models.Document) *Document {
	return &Document{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Sections:    doc.Sections,
	}
}

func (d *Document) toModel() *models.Document {
	return &models.Document{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Sections:    d.Sections,
	}
}
