package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	"github.com/mattmiller85/keepers-server/internal/store"
)

const (
	fieldText     = "text"
	fieldTags     = "tags"
	fieldImageEnc = "image_enc"
	fieldCreated  = "created"
)

// Index writes the document hash. Existing documents are overwritten field by
// field; the created timestamp is set on first write only.
func (s *Store) Index(ctx context.Context, doc msgpkg.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("index: document id is required")
	}
	if err := s.checkLive(ctx); err != nil {
		return err
	}

	key := docKey(doc.ID)
	existing, err := s.do(ctx, s.b().Hget().Key(key).Field(fieldCreated).Build()).ToString()
	if err != nil && !rueidis.IsRedisNil(err) {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	created := existing
	if created == "" {
		created = time.Now().UTC().Format(time.RFC3339)
	}

	cmd := s.b().Hset().Key(key).FieldValue().
		FieldValue(fieldText, doc.Text).
		FieldValue(fieldTags, doc.Tags).
		FieldValue(fieldImageEnc, doc.ImageEnc).
		FieldValue(fieldCreated, created).
		Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	return nil
}

// GetKeeper looks up a single document by id, including its image payload.
func (s *Store) GetKeeper(ctx context.Context, id string) (msgpkg.DocumentResult, error) {
	if err := s.checkLive(ctx); err != nil {
		return msgpkg.DocumentResult{}, err
	}

	fields, err := s.do(ctx, s.b().Hgetall().Key(docKey(id)).Build()).AsStrMap()
	if err != nil {
		return msgpkg.DocumentResult{}, fmt.Errorf("get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return msgpkg.DocumentResult{}, fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}

	return documentResultFromFields(id, fields, 0, true), nil
}

// UpdateTags replaces the tags field on every identified document in one
// round-trip.
func (s *Store) UpdateTags(ctx context.Context, ids []string, tags string) (store.OpResult, error) {
	if len(ids) == 0 {
		return store.OpResult{OK: false, Message: "no document ids given"}, nil
	}
	if err := s.checkLive(ctx); err != nil {
		return store.OpResult{OK: false, Message: store.ErrStoreUnavailable.Error()}, nil
	}

	cmds := make([]rueidis.Completed, len(ids))
	for i, id := range ids {
		cmds[i] = s.b().Hset().Key(docKey(id)).FieldValue().FieldValue(fieldTags, tags).Build()
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return store.OpResult{OK: false, Message: fmt.Sprintf("update %s: %v", ids[i], err)}, nil
		}
	}
	return store.OpResult{OK: true, Message: "Success"}, nil
}

// Delete removes the identified documents.
func (s *Store) Delete(ctx context.Context, ids []string) (store.OpResult, error) {
	if len(ids) == 0 {
		return store.OpResult{OK: false, Message: "no document ids given"}, nil
	}
	if err := s.checkLive(ctx); err != nil {
		return store.OpResult{OK: false, Message: store.ErrStoreUnavailable.Error()}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}

	if err := s.do(ctx, s.b().Del().Key(keys...).Build()).Error(); err != nil {
		return store.OpResult{OK: false, Message: fmt.Sprintf("delete: %v", err)}, nil
	}
	return store.OpResult{OK: true, Message: "Success"}, nil
}

func documentResultFromFields(id string, fields map[string]string, score float64, fillImage bool) msgpkg.DocumentResult {
	result := msgpkg.DocumentResult{
		Document: msgpkg.Document{
			ID:   id,
			Text: fields[fieldText],
			Tags: fields[fieldTags],
		},
		Score: score,
	}
	if fillImage {
		result.ImageEnc = fields[fieldImageEnc]
	}
	if raw := fields[fieldCreated]; raw != "" {
		if created, err := time.Parse(time.RFC3339, raw); err == nil {
			result.Created = created
		}
	}
	return result
}
