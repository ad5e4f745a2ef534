package keystore

import (
	"context"
	"errors"
)

// ErrEntityNotFound is returned by repositories when no entity exists for
// the requested row.
var ErrEntityNotFound = errors.New("entity not found")

// TableRepository is the narrow contract over the backing table service. The
// store treats the backend as an opaque keyed store; everything beyond these
// four operations is out of scope.
type TableRepository interface {
	// RetrieveEntity fetches one entity by partition and row key.
	RetrieveEntity(ctx context.Context, partition, rowKey string) (Entity, error)

	// ReplaceEntity overwrites an existing entity. Returns ErrEntityNotFound
	// when the entity does not exist.
	ReplaceEntity(ctx context.Context, entity Entity) error

	// InsertEntity creates a new entity.
	InsertEntity(ctx context.Context, entity Entity) error

	// QueryEntities fetches the entities matching any of the given row keys
	// within the partition. Missing rows are simply absent from the result.
	QueryEntities(ctx context.Context, partition string, rowKeys []string) ([]Entity, error)
}
