package keystore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresTableRepository implements TableRepository using PostgreSQL. The
// table holds one row per entity:
//
//	CREATE TABLE key_records (
//	    partition TEXT NOT NULL,
//	    row_key   TEXT NOT NULL,
//	    public    TEXT NOT NULL,
//	    private   TEXT NOT NULL,
//	    PRIMARY KEY (partition, row_key)
//	);
type PostgresTableRepository struct {
	db    *pgxpool.Pool
	table string
}

// NewPostgresTableRepository creates a new PostgreSQL-based table repository
func NewPostgresTableRepository(db *pgxpool.Pool, table string) (*PostgresTableRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %s", table)
	}
	return &PostgresTableRepository{
		db:    db,
		table: table,
	}, nil
}

// RetrieveEntity fetches one entity by partition and row key
func (r *PostgresTableRepository) RetrieveEntity(ctx context.Context, partition, rowKey string) (Entity, error) {
	entity := Entity{Partition: partition, RowKey: rowKey}

	query := fmt.Sprintf(
		`SELECT public, private FROM %s WHERE partition = $1 AND row_key = $2`, r.table)
	err := r.db.QueryRow(ctx, query, partition, rowKey).Scan(&entity.Public, &entity.Private)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, ErrEntityNotFound
		}
		return Entity{}, fmt.Errorf("failed to retrieve entity: %w", err)
	}
	return entity, nil
}

// ReplaceEntity overwrites an existing entity
func (r *PostgresTableRepository) ReplaceEntity(ctx context.Context, entity Entity) error {
	query := fmt.Sprintf(
		`UPDATE %s SET public = $3, private = $4 WHERE partition = $1 AND row_key = $2`, r.table)
	tag, err := r.db.Exec(ctx, query, entity.Partition, entity.RowKey, entity.Public, entity.Private)
	if err != nil {
		return fmt.Errorf("failed to replace entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// InsertEntity creates a new entity
func (r *PostgresTableRepository) InsertEntity(ctx context.Context, entity Entity) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (partition, row_key, public, private) VALUES ($1, $2, $3, $4)`, r.table)
	_, err := r.db.Exec(ctx, query, entity.Partition, entity.RowKey, entity.Public, entity.Private)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

// QueryEntities fetches the entities matching any of the given row keys
func (r *PostgresTableRepository) QueryEntities(ctx context.Context, partition string, rowKeys []string) ([]Entity, error) {
	query := fmt.Sprintf(
		`SELECT row_key, public, private FROM %s WHERE partition = $1 AND row_key = ANY($2)`, r.table)
	rows, err := r.db.Query(ctx, query, partition, rowKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		entity := Entity{Partition: partition}
		if err := rows.Scan(&entity.RowKey, &entity.Public, &entity.Private); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	return entities, nil
}
