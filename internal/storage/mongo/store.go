// Package mongo implements the document store over MongoDB. Collections are
// dynamic-schema; the authoritative logical key everywhere is the id field,
// never the opaque _id.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
)

// Collection names used by the pipeline.
const (
	CollDatasourceConfig = "recruitment_datasource_config"
	CollList             = "list"
	CollCookies          = "cookies"
	CollJDConfig         = "jd_config"
)

const connectTimeout = 10 * time.Second

// Store wraps one mongo client and database. Safe for concurrent use; the
// driver pools connections internally.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger arbor.ILogger
}

// NewStore connects to MongoDB and pings it once so a bad address fails at
// startup rather than on first use.
func NewStore(ctx context.Context, cfg common.MongoDBConfig, logger arbor.ILogger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI()))
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindTransport, "mongodb connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, dserrors.Wrap(dserrors.KindTransport, "mongodb ping", err)
	}

	return &Store{
		client: client,
		db:     client.Database(cfg.DBName),
		logger: logger,
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Find returns up to limit documents matching the filter. A nil sort keeps
// natural order; sort values are 1/-1 per field.
func (s *Store) Find(ctx context.Context, collection string, filter map[string]interface{}, limit int64, sort map[string]int) ([]map[string]interface{}, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if len(sort) > 0 {
		doc := bson.D{}
		for field, dir := range sort {
			doc = append(doc, bson.E{Key: field, Value: dir})
		}
		opts.SetSort(doc)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, toBSON(filter), opts)
	if err != nil {
		return nil, classify("find "+collection, err)
	}
	defer cursor.Close(ctx)

	var results []map[string]interface{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, classify("find "+collection, err)
	}
	return results, nil
}

// FindOne returns the first document matching the filter.
func (s *Store) FindOne(ctx context.Context, collection string, filter map[string]interface{}) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := s.db.Collection(collection).FindOne(ctx, toBSON(filter)).Decode(&result)
	if err != nil {
		return nil, classify("find one "+collection, err)
	}
	return result, nil
}

// InsertOne inserts a single document.
func (s *Store) InsertOne(ctx context.Context, collection string, doc interface{}) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, doc)
	return classify("insert "+collection, err)
}

// InsertMany inserts documents in bulk.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []interface{}) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := s.db.Collection(collection).InsertMany(ctx, docs)
	return classify("insert many "+collection, err)
}

// UpdateOne applies a $set/$unset patch to the first matching document and
// returns the matched count, which callers use for compare-and-set claims.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter map[string]interface{}, update map[string]interface{}) (int64, error) {
	res, err := s.db.Collection(collection).UpdateOne(ctx, toBSON(filter), toBSON(update))
	if err != nil {
		return 0, classify("update "+collection, err)
	}
	return res.MatchedCount, nil
}

// UpdateMany applies a patch to all matching documents.
func (s *Store) UpdateMany(ctx context.Context, collection string, filter map[string]interface{}, update map[string]interface{}) (int64, error) {
	res, err := s.db.Collection(collection).UpdateMany(ctx, toBSON(filter), toBSON(update))
	if err != nil {
		return 0, classify("update many "+collection, err)
	}
	return res.MatchedCount, nil
}

// Drop removes a collection.
func (s *Store) Drop(ctx context.Context, collection string) error {
	return classify("drop "+collection, s.db.Collection(collection).Drop(ctx))
}

func toBSON(m map[string]interface{}) bson.M {
	if m == nil {
		return bson.M{}
	}
	return bson.M(m)
}

// classify maps driver errors onto the shared taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return dserrors.Wrap(dserrors.KindNotFound, op, err)
	case mongo.IsDuplicateKeyError(err):
		return dserrors.Wrap(dserrors.KindConflict, op, err)
	case mongo.IsTimeout(err):
		return dserrors.Wrap(dserrors.KindTimeout, op, err)
	default:
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) {
			return dserrors.Wrap(dserrors.KindBadQuery, op, err)
		}
		return dserrors.Wrap(dserrors.KindTransport, op, err)
	}
}
