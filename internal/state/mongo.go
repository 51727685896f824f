package state

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// Collection name constants.
const (
	colJobs = "scrape_jobs"
	colDue  = "scrape_due_jobs"
)

// MongoStore implements Store on MongoDB. The caller owns the client
// lifecycle unless the store was created by OpenMongoStore.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
}

var _ Store = (*MongoStore)(nil)

type dueModel struct {
	JobID   string `bson:"_id"`
	DueAtMs int64  `bson:"due_at_ms"`
}

// NewMongoStore creates a store over an existing database handle.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{client: db.Client(), db: db}
}

// OpenMongoStore connects to uri and returns a store that closes the client
// on Close.
func OpenMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("state/mongo: connect: %w", err)
	}
	s := NewMongoStore(client.Database(database))
	s.owned = true
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Migrate creates the indexes used by listings and the due index.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.db.Collection(colJobs).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "type", Value: 1},
			{Key: "created_at", Value: 1},
		}},
	})
	if err != nil {
		return fmt.Errorf("state/mongo: migrate %s indexes: %w", colJobs, err)
	}

	_, err = s.db.Collection(colDue).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "due_at_ms", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("state/mongo: migrate %s indexes: %w", colDue, err)
	}
	return nil
}

// PutJob inserts or replaces a job record.
func (s *MongoStore) PutJob(ctx context.Context, record *JobRecord) error {
	_, err := s.db.Collection(colJobs).ReplaceOne(ctx,
		bson.M{"_id": record.ID}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("state/mongo: put job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *MongoStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	var record JobRecord
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("get job %s: %w", jobID, core.ErrJobNotFound)
		}
		return nil, fmt.Errorf("state/mongo: get job: %w", err)
	}
	return &record, nil
}

// DeleteJob removes a job by ID.
func (s *MongoStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID})
	if err != nil {
		return fmt.Errorf("state/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete job %s: %w", jobID, core.ErrJobNotFound)
	}
	return nil
}

// ListJobsByQueue returns up to limit jobs in queue with status, oldest first.
func (s *MongoStore) ListJobsByQueue(ctx context.Context, queue, status string, limit int) ([]*JobRecord, error) {
	records, _, err := s.ListJobs(ctx, ListFilter{Queue: queue, Status: status, Limit: limit})
	return records, err
}

// ListJobs returns one page of jobs matching filter and the total count.
func (s *MongoStore) ListJobs(ctx context.Context, filter ListFilter) ([]*JobRecord, int, error) {
	query := bson.M{}
	if filter.Queue != "" {
		query["queue"] = filter.Queue
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	col := s.db.Collection(colJobs)
	total, err := col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("state/mongo: count jobs: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset))
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := col.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("state/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	records := []*JobRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, 0, fmt.Errorf("state/mongo: decode jobs: %w", err)
	}
	return records, int(total), nil
}

// AddDueJob records that jobID should be released at dueAtMs.
func (s *MongoStore) AddDueJob(ctx context.Context, jobID string, dueAtMs int64) error {
	_, err := s.db.Collection(colDue).ReplaceOne(ctx,
		bson.M{"_id": jobID}, dueModel{JobID: jobID, DueAtMs: dueAtMs}, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("state/mongo: add due job: %w", err)
	}
	return nil
}

// GetDueJobs returns the IDs of jobs due at or before nowMs.
func (s *MongoStore) GetDueJobs(ctx context.Context, nowMs int64) ([]string, error) {
	cursor, err := s.db.Collection(colDue).Find(ctx,
		bson.M{"due_at_ms": bson.M{"$lte": nowMs}},
		options.Find().SetSort(bson.D{{Key: "due_at_ms", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("state/mongo: get due jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var due []dueModel
	if err := cursor.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("state/mongo: decode due jobs: %w", err)
	}
	ids := make([]string, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.JobID)
	}
	return ids, nil
}

// RemoveDueJob removes a job from the due index.
func (s *MongoStore) RemoveDueJob(ctx context.Context, jobID string) error {
	if _, err := s.db.Collection(colDue).DeleteOne(ctx, bson.M{"_id": jobID}); err != nil {
		return fmt.Errorf("state/mongo: remove due job: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("state/mongo: ping: %w", err)
	}
	return nil
}

// Close disconnects the client when the store owns it.
func (s *MongoStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

