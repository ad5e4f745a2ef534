package keystore

import (
	"context"
	"sync"
)

// InMemoryTableRepository implements TableRepository using in-memory storage
type InMemoryTableRepository struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

// NewInMemoryTableRepository creates a new in-memory table repository
func NewInMemoryTableRepository() *InMemoryTableRepository {
	return &InMemoryTableRepository{
		entities: make(map[string]Entity),
	}
}

func entityKey(partition, rowKey string) string {
	return partition + "/" + rowKey
}

// RetrieveEntity fetches one entity by partition and row key
func (r *InMemoryTableRepository) RetrieveEntity(ctx context.Context, partition, rowKey string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[entityKey(partition, rowKey)]
	if !ok {
		return Entity{}, ErrEntityNotFound
	}
	return entity, nil
}

// ReplaceEntity overwrites an existing entity
func (r *InMemoryTableRepository) ReplaceEntity(ctx context.Context, entity Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entityKey(entity.Partition, entity.RowKey)
	if _, ok := r.entities[key]; !ok {
		return ErrEntityNotFound
	}
	r.entities[key] = entity
	return nil
}

// InsertEntity creates a new entity
func (r *InMemoryTableRepository) InsertEntity(ctx context.Context, entity Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities[entityKey(entity.Partition, entity.RowKey)] = entity
	return nil
}

// QueryEntities fetches the entities matching any of the given row keys
func (r *InMemoryTableRepository) QueryEntities(ctx context.Context, partition string, rowKeys []string) ([]Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Entity
	for _, rowKey := range rowKeys {
		if entity, ok := r.entities[entityKey(partition, rowKey)]; ok {
			matches = append(matches, entity)
		}
	}
	return matches, nil
}
