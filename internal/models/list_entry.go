package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// ListIndexEntry is the document written to the list collection for every
// persisted list page. Path is the object-store key of the raw body.
type ListIndexEntry struct {
	ID           string    `bson:"id" json:"id"`
	Path         string    `bson:"path" json:"path"`
	DatasourceID string    `bson:"datasource_id" json:"datasource_id"`
	Round        int       `bson:"round" json:"round"`
	PageCursor   int       `bson:"page_cursor" json:"page_cursor"`
	FetchedAt    time.Time `bson:"fetched_at" json:"fetched_at"`
}

// RawPageKey computes the content-addressed object-store key for a response
// body: yyyy/mm/dd/{task_id}_{md5(body)}.txt. Re-persisting the same body on
// the same day yields the same key, which keeps duplicate publishes
// idempotent downstream.
func RawPageKey(taskID string, body []byte, now time.Time) string {
	sum := md5.Sum(body)
	return fmt.Sprintf("%s/%s_%s.txt", now.Format("2006/01/02"), taskID, hex.EncodeToString(sum[:]))
}
