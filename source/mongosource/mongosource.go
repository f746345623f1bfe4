// Package mongosource implements picksync.DataSource over MongoDB.
//
// Collections:
//
//	picklists       {_id: <picklist no>, label, updatedAt}
//	pick_items      {_id, picklistNo, articleId, articleName, size, productId, qtyPl, createdAt}
//	processed_tags  {tagId (unique), picklistNo, articleId, articleName, size, productId, scannedAt}
//
// Item scan counts are not stored; FetchItems derives them from processed_tags.
package mongosource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/unkn0wn-root/picksync"
)

const (
	picklistsCollection = "picklists"
	itemsCollection     = "pick_items"
	tagsCollection      = "processed_tags"

	duplicateKeyCode = 11000
)

type picklistDoc struct {
	No        string    `bson:"_id"`
	Label     string    `bson:"label,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt,omitempty"`
}

type itemDoc struct {
	ID          string    `bson:"_id"`
	PicklistNo  string    `bson:"picklistNo"`
	ArticleID   string    `bson:"articleId"`
	ArticleName string    `bson:"articleName"`
	Size        string    `bson:"size"`
	ProductID   string    `bson:"productId,omitempty"`
	QtyPl       int       `bson:"qtyPl"`
	CreatedAt   time.Time `bson:"createdAt"`
}

type tagDoc struct {
	TagID       string    `bson:"tagId"`
	PicklistNo  string    `bson:"picklistNo"`
	ArticleID   string    `bson:"articleId"`
	ArticleName string    `bson:"articleName"`
	Size        string    `bson:"size"`
	ProductID   string    `bson:"productId,omitempty"`
	ScannedAt   time.Time `bson:"scannedAt"`
}

// scanGroup is one row of the processed_tags aggregation.
type scanGroup struct {
	ID struct {
		ArticleID string `bson:"articleId"`
		Size      string `bson:"size"`
	} `bson:"_id"`
	Count int       `bson:"count"`
	Last  time.Time `bson:"last"`
}

type Source struct {
	picklists *mongo.Collection
	items     *mongo.Collection
	tags      *mongo.Collection
	now       func() time.Time
}

var _ picksync.DataSource = (*Source)(nil)

type Option func(*Source)

// WithClock sets the clock stamped on written tags and status updates.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

func New(db *mongo.Database, opts ...Option) *Source {
	s := &Source{
		picklists: db.Collection(picklistsCollection),
		items:     db.Collection(itemsCollection),
		tags:      db.Collection(tagsCollection),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongosource: connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongosource: ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique tagId index and the picklist lookups.
func (s *Source) EnsureIndexes(ctx context.Context) error {
	_, err := s.tags.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tagId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "picklistNo", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongosource: %s indexes: %w", tagsCollection, err)
	}
	_, err = s.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "picklistNo", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongosource: %s indexes: %w", itemsCollection, err)
	}
	return nil
}

// PutPicklist upserts a picklist and replaces its planned items.
// Scan fields of items are ignored.
func (s *Source) PutPicklist(ctx context.Context, no string, items []picksync.PickItem) error {
	_, err := s.picklists.UpdateOne(ctx,
		bson.M{"_id": no},
		bson.M{"$setOnInsert": bson.M{"updatedAt": s.now().UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongosource: put picklist %s: %w", no, err)
	}
	if _, err := s.items.DeleteMany(ctx, bson.M{"picklistNo": no}); err != nil {
		return fmt.Errorf("mongosource: clear items of %s: %w", no, err)
	}
	if len(items) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(items))
	for _, it := range items {
		docs = append(docs, toItemDoc(no, it))
	}
	if _, err := s.items.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("mongosource: insert items of %s: %w", no, err)
	}
	return nil
}

func (s *Source) FetchPicklistNumbers(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.picklists.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongosource: find picklists: %w", err)
	}
	var docs []picklistDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongosource: decode picklists: %w", err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.No
	}
	return out, nil
}

func (s *Source) FetchItems(ctx context.Context, picklist string) ([]picksync.PickItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.items.Find(ctx, bson.M{"picklistNo": picklist}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongosource: find items of %s: %w", picklist, err)
	}
	var docs []itemDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongosource: decode items of %s: %w", picklist, err)
	}

	cur, err = s.tags.Aggregate(ctx, scanPipeline(picklist))
	if err != nil {
		return nil, fmt.Errorf("mongosource: aggregate scans of %s: %w", picklist, err)
	}
	var groups []scanGroup
	if err := cur.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("mongosource: decode scans of %s: %w", picklist, err)
	}

	items := make([]picksync.PickItem, len(docs))
	for i, d := range docs {
		items[i] = fromItemDoc(d)
	}
	return picksync.ApplyScanCounts(items, scanCounts(groups)), nil
}

func scanPipeline(picklist string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"picklistNo": picklist}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"articleId": "$articleId", "size": "$size"},
			"count": bson.M{"$sum": 1},
			"last":  bson.M{"$max": "$scannedAt"},
		}}},
	}
}

func scanCounts(groups []scanGroup) map[picksync.ItemKey]picksync.ScanCount {
	out := make(map[picksync.ItemKey]picksync.ScanCount, len(groups))
	for _, g := range groups {
		k := picksync.ItemKey{ArticleID: g.ID.ArticleID, Size: g.ID.Size}
		out[k] = picksync.ScanCount{Count: g.Count, LastScanAt: g.Last}
	}
	return out
}

func (s *Source) FetchProcessedTags(ctx context.Context, picklist string) ([]string, error) {
	vals, err := s.tags.Distinct(ctx, "tagId", bson.M{"picklistNo": picklist})
	if err != nil {
		return nil, fmt.Errorf("mongosource: distinct tags of %s: %w", picklist, err)
	}
	return stringsOf(vals), nil
}

func stringsOf(vals []interface{}) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Source) CheckExisting(ctx context.Context, tagIDs []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(tagIDs) == 0 {
		return found, nil
	}
	opts := options.Find().SetProjection(bson.M{"tagId": 1, "_id": 0})
	cur, err := s.tags.Find(ctx, bson.M{"tagId": bson.M{"$in": tagIDs}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongosource: check existing: %w", err)
	}
	var docs []tagDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongosource: decode existing: %w", err)
	}
	for _, d := range docs {
		found[d.TagID] = struct{}{}
	}
	return found, nil
}

// WriteChunk inserts records unordered. Tags that already exist violate the
// unique index; a chunk failing only on those counts as written.
func (s *Source) WriteChunk(ctx context.Context, records []picksync.ScanRecord) (bool, error) {
	if len(records) == 0 {
		return true, nil
	}
	now := s.now().UTC()
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = toTagDoc(r, now)
	}
	_, err := s.tags.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !duplicateOnly(err) {
		return false, fmt.Errorf("mongosource: insert tags: %w", err)
	}
	return true, nil
}

// duplicateOnly reports whether every write error of err is a duplicate key.
func duplicateOnly(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

// UpdateStatus sets the label of an existing picklist. ok is false when the
// picklist is unknown.
func (s *Source) UpdateStatus(ctx context.Context, picklist, label string) (bool, error) {
	res, err := s.picklists.UpdateOne(ctx,
		bson.M{"_id": picklist},
		bson.M{"$set": bson.M{"label": label, "updatedAt": s.now().UTC()}})
	if err != nil {
		return false, fmt.Errorf("mongosource: update status of %s: %w", picklist, err)
	}
	return res.MatchedCount > 0, nil
}

// Label returns the stored label of a picklist, "" when none was set.
func (s *Source) Label(ctx context.Context, picklist string) (string, error) {
	var d picklistDoc
	err := s.picklists.FindOne(ctx, bson.M{"_id": picklist}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mongosource: label of %s: %w", picklist, err)
	}
	return d.Label, nil
}

func toItemDoc(no string, it picksync.PickItem) itemDoc {
	return itemDoc{
		ID:          it.ID,
		PicklistNo:  no,
		ArticleID:   it.ArticleID,
		ArticleName: it.ArticleName,
		Size:        it.Size,
		ProductID:   it.ProductID,
		QtyPl:       it.QtyPl,
		CreatedAt:   it.CreatedAt.UTC(),
	}
}

func fromItemDoc(d itemDoc) picksync.PickItem {
	return picksync.PickItem{
		ID:          d.ID,
		PicklistNo:  d.PicklistNo,
		ArticleID:   d.ArticleID,
		ArticleName: d.ArticleName,
		Size:        d.Size,
		ProductID:   d.ProductID,
		QtyPl:       d.QtyPl,
		CreatedAt:   d.CreatedAt,
	}
}

func toTagDoc(r picksync.ScanRecord, at time.Time) tagDoc {
	return tagDoc{
		TagID:       r.TagID,
		PicklistNo:  r.PicklistNo,
		ArticleID:   r.ArticleID,
		ArticleName: r.ArticleName,
		Size:        r.Size,
		ProductID:   r.ProductID,
		ScannedAt:   at,
	}
}
