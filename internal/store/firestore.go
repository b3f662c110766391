package store

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sells-group/companydb/internal/company"
)

// firestoreMaxBatch is Firestore's per-commit write limit.
const firestoreMaxBatch = 500

// FirestoreConfig locates the company collection.
type FirestoreConfig struct {
	ProjectID       string
	DatabaseID      string
	Collection      string
	CredentialsFile string
}

// FirestoreStore implements Store over one Firestore collection. Records are
// ordered by document ID.
type FirestoreStore struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	schema *company.Schema
}

// NewFirestore opens a client for cfg. The client is owned by the store and
// released by Close. FIRESTORE_EMULATOR_HOST is honored by the client library.
func NewFirestore(ctx context.Context, cfg FirestoreConfig, schema *company.Schema, opts ...option.ClientOption) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, eris.New("firestore: project id is required")
	}
	if cfg.Collection == "" {
		return nil, eris.New("firestore: collection is required")
	}
	if schema == nil {
		schema = company.DefaultSchema()
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var (
		client *firestore.Client
		err    error
	)
	if cfg.DatabaseID != "" {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.DatabaseID, opts...)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
	}
	if err != nil {
		return nil, eris.Wrap(err, "firestore: create client")
	}
	return &FirestoreStore{
		client: client,
		coll:   client.Collection(cfg.Collection),
		schema: schema,
	}, nil
}

func (s *FirestoreStore) Close() error {
	return eris.Wrap(s.client.Close(), "firestore: close")
}

func (s *FirestoreStore) MaxBatchOps() int { return firestoreMaxBatch }

func (s *FirestoreStore) Scan(ctx context.Context, afterID string, limit int) ([]company.Record, error) {
	q := s.coll.OrderBy(firestore.DocumentID, firestore.Asc)
	if afterID != "" {
		q = q.StartAfter(afterID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	out, err := s.collect(q.Documents(ctx))
	return out, eris.Wrap(err, "firestore: scan")
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*company.Record, error) {
	snap, err := s.coll.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, eris.Wrapf(ErrNotFound, "firestore: get %s", id)
		}
		return nil, eris.Wrapf(err, "firestore: get %s", id)
	}
	r := s.record(snap)
	return &r, nil
}

func (s *FirestoreStore) FindByField(ctx context.Context, field string, value any) ([]company.Record, error) {
	if !s.schema.Has(field) {
		return nil, eris.Wrapf(company.ErrUnknownField, "firestore: find by %q", field)
	}
	out, err := s.collect(s.coll.Where(field, "==", value).Documents(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: find by %s", field)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FirestoreStore) collect(it *firestore.DocumentIterator) ([]company.Record, error) {
	defer it.Stop()

	var out []company.Record
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.record(snap))
	}
	return out, nil
}

func (s *FirestoreStore) record(snap *firestore.DocumentSnapshot) company.Record {
	id := snap.Ref.ID
	return s.schema.Record(id, snap.Data())
}

// Commit writes ops in one atomic WriteBatch. An update of a missing document
// fails the whole batch with ErrNotFound.
func (s *FirestoreStore) Commit(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := validateOps(s.schema, ops, firestoreMaxBatch); err != nil {
		return err
	}

	batch := s.client.Batch() //nolint:staticcheck // BulkWriter is not atomic
	writes := 0
	for _, op := range ops {
		ref := s.coll.Doc(op.ID)
		switch op.Kind {
		case OpSet:
			batch.Set(ref, setFields(op.Fields))
		case OpUpdate:
			updates := toUpdates(op.Fields)
			if len(updates) == 0 {
				continue
			}
			batch.Update(ref, updates)
		case OpDelete:
			batch.Delete(ref)
		}
		writes++
	}
	if writes == 0 {
		return nil
	}

	if _, err := batch.Commit(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return eris.Wrapf(ErrNotFound, "firestore: commit %d ops: %v", len(ops), err)
		}
		return eris.Wrapf(err, "firestore: commit %d ops", len(ops))
	}
	return nil
}

// toUpdates converts a field map to Firestore updates in field order; nil
// values become field deletes.
func toUpdates(fields map[string]any) []firestore.Update {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	updates := make([]firestore.Update, 0, len(names))
	for _, k := range names {
		v := fields[k]
		if v == nil {
			v = firestore.Delete
		}
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return updates
}
