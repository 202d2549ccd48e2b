package interfaces

import (
	"context"

	"github.com/blankors/dspider/internal/models"
)

// DocumentStore is the document-oriented persistence contract. Filters use
// {field: value} / {field: {$in: [...]}} semantics and updates use
// {$set|$unset: {...}}, mirroring the backing store. Implementations must be
// safe for concurrent use.
type DocumentStore interface {
	Find(ctx context.Context, collection string, filter map[string]interface{}, limit int64, sort map[string]int) ([]map[string]interface{}, error)
	FindOne(ctx context.Context, collection string, filter map[string]interface{}) (map[string]interface{}, error)
	InsertOne(ctx context.Context, collection string, doc interface{}) error
	InsertMany(ctx context.Context, collection string, docs []interface{}) error
	UpdateOne(ctx context.Context, collection string, filter map[string]interface{}, update map[string]interface{}) (matched int64, err error)
	UpdateMany(ctx context.Context, collection string, filter map[string]interface{}, update map[string]interface{}) (matched int64, err error)
	Drop(ctx context.Context, collection string) error
}

// DatasourceStore layers the typed datasource-config operations over the
// document store. ClaimReady performs the compare-and-set state transition to
// DISPATCHED; matched == false means another master claimed the config.
type DatasourceStore interface {
	FindDispatchable(ctx context.Context, limit int64) ([]models.DatasourceConfig, error)
	FindAll(ctx context.Context) ([]models.DatasourceConfig, error)
	ClaimReady(ctx context.Context, id string, from models.CrawlState) (bool, error)
	SetState(ctx context.Context, id string, state models.CrawlState) error
	ResetAllToReady(ctx context.Context) (int64, error)
	CountUnfinished(ctx context.Context) (int64, error)
	UpdateHeaders(ctx context.Context, socialIndexURL string, headers map[string]string) (int64, error)
	InsertListEntry(ctx context.Context, entry models.ListIndexEntry) error
}

// ObjectStore stores opaque byte blobs under content-addressed keys. Buckets
// are created on first use; no versioning semantics.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutBytes(ctx context.Context, bucket, key string, data []byte) error
	GetBytes(ctx context.Context, bucket, key string) ([]byte, error)
}
