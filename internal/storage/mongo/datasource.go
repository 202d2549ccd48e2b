package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blankors/dspider/internal/models"
)

// FindDispatchable returns up to limit configs in READY or RETRY state,
// highest priority first, id ascending within a priority.
func (s *Store) FindDispatchable(ctx context.Context, limit int64) ([]models.DatasourceConfig, error) {
	filter := bson.M{"state": bson.M{"$in": []interface{}{models.StateReady, models.StateRetry}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "id", Value: 1}}).
		SetLimit(limit)

	cursor, err := s.db.Collection(CollDatasourceConfig).Find(ctx, filter, opts)
	if err != nil {
		return nil, classify("find dispatchable configs", err)
	}
	defer cursor.Close(ctx)

	var configs []models.DatasourceConfig
	if err := cursor.All(ctx, &configs); err != nil {
		return nil, classify("decode dispatchable configs", err)
	}
	return configs, nil
}

// FindAll returns every datasource config; the cookie refresher scans the
// whole collection each cycle.
func (s *Store) FindAll(ctx context.Context) ([]models.DatasourceConfig, error) {
	cursor, err := s.db.Collection(CollDatasourceConfig).Find(ctx, bson.M{})
	if err != nil {
		return nil, classify("find all configs", err)
	}
	defer cursor.Close(ctx)

	var configs []models.DatasourceConfig
	if err := cursor.All(ctx, &configs); err != nil {
		return nil, classify("decode all configs", err)
	}
	return configs, nil
}

// ClaimReady performs the compare-and-set transition from the given state to
// DISPATCHED, stamping distributed_at. matched == false means another master
// claimed the config first; callers skip it.
func (s *Store) ClaimReady(ctx context.Context, id string, from models.CrawlState) (bool, error) {
	res, err := s.db.Collection(CollDatasourceConfig).UpdateOne(ctx,
		bson.M{"id": id, "state": from},
		bson.M{"$set": bson.M{
			"state":          models.StateDispatched,
			"distributed_at": time.Now(),
		}},
	)
	if err != nil {
		return false, classify("claim config "+id, err)
	}
	return res.MatchedCount == 1, nil
}

// SetState moves one config to the given lifecycle state.
func (s *Store) SetState(ctx context.Context, id string, state models.CrawlState) error {
	_, err := s.db.Collection(CollDatasourceConfig).UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"state": state, "update_time": time.Now()}},
	)
	return classify("set state "+id, err)
}

// CountUnfinished counts configs still in flight this round (anything not
// DONE).
func (s *Store) CountUnfinished(ctx context.Context) (int64, error) {
	states := []interface{}{models.StateReady, models.StateDispatched, models.StateInProgress, models.StateFailed, models.StateRetry}
	n, err := s.db.Collection(CollDatasourceConfig).CountDocuments(ctx,
		bson.M{"state": bson.M{"$in": states}})
	if err != nil {
		return 0, classify("count unfinished configs", err)
	}
	return n, nil
}

// ResetAllToReady flips every config back to READY and bumps round, opening
// the next crawl round.
func (s *Store) ResetAllToReady(ctx context.Context) (int64, error) {
	res, err := s.db.Collection(CollDatasourceConfig).UpdateMany(ctx,
		bson.M{},
		bson.M{
			"$set": bson.M{"state": models.StateReady, "update_time": time.Now()},
			"$inc": bson.M{"round": 1},
		},
	)
	if err != nil {
		return 0, classify("reset configs to ready", err)
	}
	return res.MatchedCount, nil
}

// UpdateHeaders replaces request_params.headers on the config whose social
// index URL matches. Called by the browser worker after a capture.
func (s *Store) UpdateHeaders(ctx context.Context, socialIndexURL string, headers map[string]string) (int64, error) {
	res, err := s.db.Collection(CollDatasourceConfig).UpdateOne(ctx,
		bson.M{"social_index_url": socialIndexURL},
		bson.M{"$set": bson.M{"request_params.headers": headers, "update_time": time.Now()}},
	)
	if err != nil {
		return 0, classify("update headers", err)
	}
	return res.MatchedCount, nil
}

// InsertListEntry records one persisted list page in the list collection.
// Upserting on the content-addressed path keeps redelivered tasks from
// producing duplicate index documents.
func (s *Store) InsertListEntry(ctx context.Context, entry models.ListIndexEntry) error {
	_, err := s.db.Collection(CollList).UpdateOne(ctx,
		bson.M{"path": entry.Path},
		bson.M{"$set": entry},
		options.Update().SetUpsert(true),
	)
	return classify("upsert list entry", err)
}
