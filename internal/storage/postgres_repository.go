package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

type postgresRepository struct {
	pool             *pgxpool.Pool
	cfg              PostgresConfig
	statementTimeout time.Duration
	objectStore      ObjectStore
}

var _ Repository = (*postgresRepository)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS groups (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    enabled    BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS media (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    status           TEXT NOT NULL,
    url              TEXT NOT NULL DEFAULT '',
    processing_error TEXT NOT NULL DEFAULT '',
    declared_size    BIGINT,
    metadata         JSONB,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS media_groups (
    media_id TEXT NOT NULL REFERENCES media(id) ON DELETE CASCADE,
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    PRIMARY KEY (media_id, group_id)
);

CREATE INDEX IF NOT EXISTS media_status_idx ON media (status);
`

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{
		pool:             pool,
		cfg:              cfg,
		statementTimeout: cfg.StatementTimeout,
		objectStore:      NewObjectStore(cfg.ObjectStorage),
	}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema() error {
	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	return nil
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.statementTimeout)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) ObjectStore() ObjectStore {
	if r.objectStore == nil {
		return noopObjectStore{}
	}
	return r.objectStore
}

func (r *postgresRepository) CreateMedia(params CreateMediaParams) (models.Media, error) {
	groupIDs := make([]string, 0, len(params.GroupIDs))
	for _, groupID := range params.GroupIDs {
		if trimmed := strings.TrimSpace(groupID); trimmed != "" {
			groupIDs = append(groupIDs, trimmed)
		}
	}
	if len(groupIDs) == 0 {
		return models.Media{}, fmt.Errorf("at least one group is required")
	}

	status := strings.TrimSpace(params.Status)
	if status == "" {
		status = models.MediaStatusPending
	}
	switch status {
	case models.MediaStatusPending, models.MediaStatusReady, models.MediaStatusFailed:
	default:
		return models.Media{}, fmt.Errorf("invalid media status %q", status)
	}

	id, err := generateID()
	if err != nil {
		return models.Media{}, err
	}
	now := time.Now().UTC()

	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Media{}, fmt.Errorf("begin create media: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var known int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM groups WHERE id = ANY($1)`, groupIDs,
	).Scan(&known); err != nil {
		return models.Media{}, fmt.Errorf("verify groups: %w", err)
	}
	if known != len(groupIDs) {
		return models.Media{}, ErrGroupNotFound
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO media (id, name, status, url, processing_error, declared_size, metadata, created_at, updated_at)
         VALUES ($1, $2, $3, $4, '', $5, $6, $7, $7)`,
		id, strings.TrimSpace(params.Name), status, strings.TrimSpace(params.URL),
		params.DeclaredSize, params.Metadata, now,
	); err != nil {
		return models.Media{}, fmt.Errorf("insert media: %w", err)
	}
	for _, groupID := range groupIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO media_groups (media_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, groupID,
		); err != nil {
			return models.Media{}, fmt.Errorf("attach media group: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Media{}, fmt.Errorf("commit create media: %w", err)
	}

	media, ok := r.GetMedia(id)
	if !ok {
		return models.Media{}, fmt.Errorf("media %s: %w", id, ErrMediaNotFound)
	}
	return media, nil
}

const selectMediaSQL = `
SELECT m.id, m.name, m.status, m.url, m.processing_error, m.declared_size, m.metadata,
       m.created_at, m.updated_at,
       COALESCE(array_agg(mg.group_id ORDER BY mg.group_id) FILTER (WHERE mg.group_id IS NOT NULL), '{}')
FROM media m
LEFT JOIN media_groups mg ON mg.media_id = m.id
`

func scanMediaRow(row pgx.Row) (models.Media, error) {
	var media models.Media
	err := row.Scan(
		&media.ID, &media.Name, &media.Status, &media.URL, &media.ProcessingError,
		&media.DeclaredSize, &media.Metadata, &media.CreatedAt, &media.UpdatedAt,
		&media.GroupIDs,
	)
	return media, err
}

func (r *postgresRepository) GetMedia(id string) (models.Media, bool) {
	ctx, cancel := r.opContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, selectMediaSQL+` WHERE m.id = $1 GROUP BY m.id`, id)
	media, err := scanMediaRow(row)
	if err != nil {
		return models.Media{}, false
	}
	return media, true
}

func (r *postgresRepository) UpdateMedia(id string, update MediaUpdate) (models.Media, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Media{}, fmt.Errorf("begin update media: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	assignments := make([]string, 0, 8)
	args := make([]any, 0, 8)
	addAssignment := func(column string, value any) {
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		addAssignment("name", strings.TrimSpace(*update.Name))
	}
	if update.Status != nil {
		status := strings.TrimSpace(*update.Status)
		switch status {
		case models.MediaStatusPending, models.MediaStatusReady, models.MediaStatusFailed:
		default:
			return models.Media{}, fmt.Errorf("invalid media status %q", status)
		}
		addAssignment("status", status)
	}
	if update.URL != nil {
		addAssignment("url", strings.TrimSpace(*update.URL))
	}
	if update.ProcessingError != nil {
		addAssignment("processing_error", strings.TrimSpace(*update.ProcessingError))
	}
	if update.ClearDeclaredSize {
		assignments = append(assignments, "declared_size = NULL")
	}
	if update.Metadata != nil {
		addAssignment("metadata", update.Metadata)
	}
	addAssignment("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE media SET %s WHERE id = $%d",
		strings.Join(assignments, ", "), len(args))
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return models.Media{}, fmt.Errorf("update media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Media{}, fmt.Errorf("media %s: %w", id, ErrMediaNotFound)
	}

	if update.GroupIDs != nil {
		groupIDs := make([]string, 0, len(update.GroupIDs))
		for _, groupID := range update.GroupIDs {
			if trimmed := strings.TrimSpace(groupID); trimmed != "" {
				groupIDs = append(groupIDs, trimmed)
			}
		}
		if len(groupIDs) == 0 {
			return models.Media{}, fmt.Errorf("at least one group is required")
		}
		var known int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM groups WHERE id = ANY($1)`, groupIDs,
		).Scan(&known); err != nil {
			return models.Media{}, fmt.Errorf("verify groups: %w", err)
		}
		if known != len(groupIDs) {
			return models.Media{}, ErrGroupNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM media_groups WHERE media_id = $1`, id); err != nil {
			return models.Media{}, fmt.Errorf("detach media groups: %w", err)
		}
		for _, groupID := range groupIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO media_groups (media_id, group_id) VALUES ($1, $2)`, id, groupID,
			); err != nil {
				return models.Media{}, fmt.Errorf("attach media group: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Media{}, fmt.Errorf("commit update media: %w", err)
	}

	media, ok := r.GetMedia(id)
	if !ok {
		return models.Media{}, fmt.Errorf("media %s: %w", id, ErrMediaNotFound)
	}
	return media, nil
}

func (r *postgresRepository) listMedia(where string, args ...any) []models.Media {
	ctx, cancel := r.opContext()
	defer cancel()

	query := selectMediaSQL
	if where != "" {
		query += " " + where
	}
	query += " GROUP BY m.id ORDER BY m.created_at DESC, m.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	media := make([]models.Media, 0)
	for rows.Next() {
		item, err := scanMediaRow(rows)
		if err != nil {
			return nil
		}
		media = append(media, item)
	}
	if rows.Err() != nil {
		return nil
	}
	return media
}

func (r *postgresRepository) ListMedia() []models.Media {
	return r.listMedia("")
}

func (r *postgresRepository) ListGroupMedia(groupIDs []string) []models.Media {
	requested := make([]string, 0, len(groupIDs))
	for _, groupID := range groupIDs {
		if trimmed := strings.TrimSpace(groupID); trimmed != "" {
			requested = append(requested, trimmed)
		}
	}
	if len(requested) == 0 {
		return []models.Media{}
	}
	return r.listMedia(
		`WHERE m.status = $1 AND m.id IN (SELECT media_id FROM media_groups WHERE group_id = ANY($2))`,
		models.MediaStatusReady, requested,
	)
}

func (r *postgresRepository) ListPendingMedia() []models.Media {
	return r.listMedia(`WHERE m.status = $1`, models.MediaStatusPending)
}

func (r *postgresRepository) SumPendingMediaBytes() (int64, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(declared_size), 0) FROM media WHERE status = $1`,
		models.MediaStatusPending,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum pending media bytes: %w", err)
	}
	return total, nil
}

func (r *postgresRepository) DeleteMedia(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("media %s: %w", id, ErrMediaNotFound)
	}
	return nil
}

func (r *postgresRepository) CreateGroup(name string) (models.Group, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.Group{}, fmt.Errorf("group name is required")
	}
	id, err := generateID()
	if err != nil {
		return models.Group{}, err
	}
	now := time.Now().UTC()

	ctx, cancel := r.opContext()
	defer cancel()

	if _, err := r.pool.Exec(ctx,
		`INSERT INTO groups (id, name, enabled, created_at, updated_at) VALUES ($1, $2, TRUE, $3, $3)`,
		id, trimmed, now,
	); err != nil {
		return models.Group{}, fmt.Errorf("insert group: %w", err)
	}
	return models.Group{ID: id, Name: trimmed, Enabled: true, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *postgresRepository) GetGroup(id string) (models.Group, bool) {
	ctx, cancel := r.opContext()
	defer cancel()

	var group models.Group
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, enabled, created_at, updated_at FROM groups WHERE id = $1`, id,
	).Scan(&group.ID, &group.Name, &group.Enabled, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return models.Group{}, false
	}
	return group, true
}

func (r *postgresRepository) ListGroups() []models.Group {
	ctx, cancel := r.opContext()
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, enabled, created_at, updated_at FROM groups ORDER BY name`,
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	groups := make([]models.Group, 0)
	for rows.Next() {
		var group models.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Enabled, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil
		}
		groups = append(groups, group)
	}
	if rows.Err() != nil {
		return nil
	}
	return groups
}

func (r *postgresRepository) DeleteGroup(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", id, ErrGroupNotFound)
	}
	return nil
}

// IsNotFound reports whether err corresponds to a missing record in either
// backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMediaNotFound) || errors.Is(err, ErrGroupNotFound) || errors.Is(err, pgx.ErrNoRows)
}
