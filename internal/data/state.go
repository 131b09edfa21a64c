package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Ref names one persisted record of a manager's state. Owner groups records
// that are loaded and purged together, e.g. the messages of one chat.
type Ref struct {
	Kind  string `bson:"kind"`
	Owner string `bson:"owner"`
	Key   string `bson:"key"`
}

// StateStore keeps the records behind the chat and social managers.
type StateStore interface {
	Put(ctx context.Context, r Ref, value any) error
	Delete(ctx context.Context, r Ref) error
	// Purge removes every record of the given kinds under owner.
	Purge(ctx context.Context, owner string, kinds ...string) error
	// Load calls fn for every record of kind. decode fills v with the
	// stored value.
	Load(ctx context.Context, kind string, fn func(r Ref, decode func(v any) error) error) error
}

type stateDoc struct {
	ID        Ref           `bson:"_id"`
	Value     bson.RawValue `bson:"v"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// StateDocs is a StateStore on one MongoDB collection, one document per
// record keyed by its Ref.
type StateDocs struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewStateDocs(coll *mongo.Collection) *StateDocs {
	return &StateDocs{coll: coll, now: time.Now}
}

func (s *StateDocs) Put(ctx context.Context, r Ref, value any) error {
	doc := bson.M{"_id": r, "v": value, "updated_at": s.now().UTC()}
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": r}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("put %s record: %w", r.Kind, err)
	}
	return nil
}

func (s *StateDocs) Delete(ctx context.Context, r Ref) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": r}); err != nil {
		return fmt.Errorf("delete %s record: %w", r.Kind, err)
	}
	return nil
}

func (s *StateDocs) Purge(ctx context.Context, owner string, kinds ...string) error {
	filter := bson.M{"_id.owner": owner, "_id.kind": bson.M{"$in": kinds}}
	if _, err := s.coll.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("purge %s: %w", owner, err)
	}
	return nil
}

func (s *StateDocs) Load(ctx context.Context, kind string, fn func(r Ref, decode func(v any) error) error) error {
	cur, err := s.coll.Find(ctx, bson.M{"_id.kind": kind})
	if err != nil {
		return fmt.Errorf("find %s records: %w", kind, err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var d stateDoc
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("decode %s record: %w", kind, err)
		}
		if err := fn(d.ID, d.Value.Unmarshal); err != nil {
			return err
		}
	}
	return cur.Err()
}

// MemoryState is a StateStore in process memory. Values are kept BSON
// encoded so they round-trip exactly as they would through MongoDB.
type MemoryState struct {
	mu   sync.RWMutex
	docs map[Ref][]byte
}

func NewMemoryState() *MemoryState {
	return &MemoryState{docs: map[Ref][]byte{}}
}

func (s *MemoryState) Put(_ context.Context, r Ref, value any) error {
	raw, err := bson.Marshal(bson.M{"v": value})
	if err != nil {
		return fmt.Errorf("encode %s record: %w", r.Kind, err)
	}
	s.mu.Lock()
	s.docs[r] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryState) Delete(_ context.Context, r Ref) error {
	s.mu.Lock()
	delete(s.docs, r)
	s.mu.Unlock()
	return nil
}

func (s *MemoryState) Purge(_ context.Context, owner string, kinds ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for r := range s.docs {
		if r.Owner != owner {
			continue
		}
		for _, k := range kinds {
			if r.Kind == k {
				delete(s.docs, r)
				break
			}
		}
	}
	return nil
}

func (s *MemoryState) Load(_ context.Context, kind string, fn func(r Ref, decode func(v any) error) error) error {
	s.mu.RLock()
	refs := make([]Ref, 0, len(s.docs))
	raws := make(map[Ref][]byte, len(s.docs))
	for r, raw := range s.docs {
		if r.Kind == kind {
			refs = append(refs, r)
			raws[r] = raw
		}
	}
	s.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Owner != refs[j].Owner {
			return refs[i].Owner < refs[j].Owner
		}
		return refs[i].Key < refs[j].Key
	})

	for _, r := range refs {
		var d struct {
			V bson.RawValue `bson:"v"`
		}
		if err := bson.Unmarshal(raws[r], &d); err != nil {
			return fmt.Errorf("decode %s record: %w", kind, err)
		}
		if err := fn(r, d.V.Unmarshal); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many records are stored.
func (s *MemoryState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
