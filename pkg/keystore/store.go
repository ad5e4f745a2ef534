package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

// DefaultUIDPattern matches the GUID-style user ids issued by the identity
// provider.
var DefaultUIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// mailboxesKey is merged one level deeper instead of being replaced
// wholesale on a partial update.
const mailboxesKey = "mailboxes"

// Store provides CRUD over per-user key records against a TableRepository.
//
// Set performs a read-then-write upsert with no concurrency token; two
// concurrent writers to the same uid can race and one update may be silently
// dropped. Callers serialize through HTTP request handling.
type Store struct {
	repo       TableRepository
	partition  string
	uidPattern *regexp.Regexp
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithUIDPattern overrides the user-id format check.
func WithUIDPattern(pattern *regexp.Regexp) StoreOption {
	return func(s *Store) {
		s.uidPattern = pattern
	}
}

// New creates a Store over the given repository and partition.
func New(repo TableRepository, partition string, opts ...StoreOption) *Store {
	s := &Store{
		repo:       repo,
		partition:  partition,
		uidPattern: DefaultUIDPattern,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get retrieves the record for uid.
func (s *Store) Get(ctx context.Context, uid string) (Record, error) {
	if err := s.checkUID(uid); err != nil {
		return Record{}, err
	}

	entity, err := s.repo.RetrieveEntity(ctx, s.partition, uid)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return Record{}, &NotFoundError{UID: uid}
		}
		slog.Warn("Failed to get entity", "uid", uid, "err", err)
		return Record{}, &DataAccessError{Message: err.Error()}
	}

	record, err := decodeEntity(entity)
	if err != nil {
		slog.Warn("Failed to parse entity properties", "uid", uid, "err", err)
		return Record{}, &DataAccessError{Message: err.Error()}
	}
	return record, nil
}

// Set upserts the record for uid: an existing record is replaced entirely, a
// missing one is inserted.
func (s *Store) Set(ctx context.Context, uid string, record Record) error {
	if err := s.checkUID(uid); err != nil {
		return err
	}

	entity, err := encodeRecord(s.partition, uid, record)
	if err != nil {
		slog.Warn("Failed to encode record", "uid", uid, "err", err)
		return &DataAccessError{Message: err.Error()}
	}

	_, err = s.repo.RetrieveEntity(ctx, s.partition, uid)
	switch {
	case err == nil:
		if err := s.repo.ReplaceEntity(ctx, entity); err != nil {
			slog.Warn("Failed to update entity", "uid", uid, "err", err)
			return &DataAccessError{Message: err.Error()}
		}
	case errors.Is(err, ErrEntityNotFound):
		if err := s.repo.InsertEntity(ctx, entity); err != nil {
			slog.Warn("Failed to insert entity", "uid", uid, "err", err)
			return &DataAccessError{Message: err.Error()}
		}
	default:
		slog.Warn("Failed to retrieve entity", "uid", uid, "err", err)
		return &DataAccessError{Message: err.Error()}
	}
	return nil
}

// MergeUpdate applies field-level partial updates to the record's sections.
// In a provided section, a key whose value is nil or the string "null" is
// deleted, the mailboxes key is merged one level deeper, and any other key
// overwrites or inserts. A nil section is left untouched. If no record exists
// yet, the partial sections become the initial record.
func (s *Store) MergeUpdate(ctx context.Context, uid string, partialPublic, partialPrivate map[string]any) error {
	if err := s.checkUID(uid); err != nil {
		return err
	}

	record, err := s.Get(ctx, uid)
	if err != nil {
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		record = Record{Public: partialPublic, Private: partialPrivate}
		if record.Public == nil {
			record.Public = map[string]any{}
		}
		if record.Private == nil {
			record.Private = map[string]any{}
		}
		return s.Set(ctx, uid, record)
	}

	if partialPublic != nil {
		mergeSection(record.Public, partialPublic)
	}
	if partialPrivate != nil {
		mergeSection(record.Private, partialPrivate)
	}
	return s.Set(ctx, uid, record)
}

// PublicKeys fetches only the public sections for the given uids. Every uid
// must pass format validation before any backend call is made.
func (s *Store) PublicKeys(ctx context.Context, uids []string) (map[string]map[string]any, error) {
	for _, uid := range uids {
		if err := s.checkUID(uid); err != nil {
			return nil, err
		}
	}

	entities, err := s.repo.QueryEntities(ctx, s.partition, uids)
	if err != nil {
		slog.Warn("Failed to query entities", "err", err)
		return nil, &DataAccessError{Message: err.Error()}
	}
	if len(entities) == 0 {
		return nil, &NotFoundError{UID: fmt.Sprintf("%v", uids)}
	}

	result := make(map[string]map[string]any, len(entities))
	for _, entity := range entities {
		var public map[string]any
		if err := json.Unmarshal([]byte(entity.Public), &public); err != nil {
			slog.Warn("Failed to parse entity properties", "uid", entity.RowKey, "err", err)
			return nil, &DataAccessError{Message: err.Error()}
		}
		result[entity.RowKey] = public
	}
	return result, nil
}

func (s *Store) checkUID(uid string) error {
	if !s.uidPattern.MatchString(uid) {
		slog.Warn("Invalid row id format", "uid", uid)
		return &DataAccessError{Message: fmt.Sprintf("invalid row id format: %s", uid)}
	}
	return nil
}

// mergeSection merges partial into existing in place.
func mergeSection(existing, partial map[string]any) {
	for key, value := range partial {
		if isNullMarker(value) {
			delete(existing, key)
			continue
		}
		if key == mailboxesKey {
			nested, ok := existing[key].(map[string]any)
			if !ok {
				nested = map[string]any{}
			}
			if partialNested, ok := value.(map[string]any); ok {
				mergeSection(nested, partialNested)
				existing[key] = nested
				continue
			}
		}
		existing[key] = value
	}
}

// isNullMarker reports whether a partial-update value requests deletion.
// JSON null decodes to nil; the legacy string form "null" is honored as well.
func isNullMarker(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == "null"
}

func decodeEntity(entity Entity) (Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(entity.Public), &record.Public); err != nil {
		return Record{}, fmt.Errorf("failed to parse public section: %w", err)
	}
	if err := json.Unmarshal([]byte(entity.Private), &record.Private); err != nil {
		return Record{}, fmt.Errorf("failed to parse private section: %w", err)
	}
	return record, nil
}

func encodeRecord(partition, uid string, record Record) (Entity, error) {
	public, err := json.Marshal(record.Public)
	if err != nil {
		return Entity{}, fmt.Errorf("failed to encode public section: %w", err)
	}
	private, err := json.Marshal(record.Private)
	if err != nil {
		return Entity{}, fmt.Errorf("failed to encode private section: %w", err)
	}
	return Entity{
		Partition: partition,
		RowKey:    uid,
		Public:    string(public),
		Private:   string(private),
	}, nil
}
