package persistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/procflow/pkg/api"
)

// MongoBackend is a Backend backed by a MongoDB collection.
type MongoBackend struct {
	coll *mongo.Collection
}

var _ Backend = (*MongoBackend)(nil)

// NewMongoBackend creates a Mongo-backed instance store.
// dbName defaults to "procflow" if empty, collName defaults to
// "process_instances".
func NewMongoBackend(client *mongo.Client, dbName, collName string) *MongoBackend {
	if dbName == "" {
		dbName = "procflow"
	}
	if collName == "" {
		collName = "process_instances"
	}
	return &MongoBackend{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoKey struct {
	ProcessID string `bson:"process_id"`
	ID        string `bson:"id"`
}

type mongoRecordDoc struct {
	Key            mongoKey `bson:"_id"`
	ProcessVersion string   `bson:"process_version"`
	Status         int      `bson:"status"`
	BusinessKey    string   `bson:"business_key,omitempty"`
	Version        int64    `bson:"version"`
	Data           []byte   `bson:"data,omitempty"`
}

func toMongoDoc(rec Record) mongoRecordDoc {
	return mongoRecordDoc{
		Key:            mongoKey{ProcessID: rec.ProcessID, ID: rec.ID},
		ProcessVersion: rec.ProcessVersion,
		Status:         int(rec.Status),
		BusinessKey:    rec.BusinessKey,
		Version:        rec.Version,
		Data:           rec.Data,
	}
}

func (d mongoRecordDoc) record() Record {
	return Record{
		ID:             d.Key.ID,
		ProcessID:      d.Key.ProcessID,
		ProcessVersion: d.ProcessVersion,
		Status:         api.Status(d.Status),
		BusinessKey:    d.BusinessKey,
		Version:        d.Version,
		Data:           d.Data,
	}
}

func idFilter(processID, id string) bson.M {
	return bson.M{"_id": mongoKey{ProcessID: processID, ID: id}}
}

func (s *MongoBackend) Insert(ctx context.Context, rec Record) error {
	_, err := s.coll.InsertOne(ctx, toMongoDoc(rec))
	if mongo.IsDuplicateKeyError(err) {
		return api.ErrDuplicateInstance
	}
	return err
}

func (s *MongoBackend) Update(ctx context.Context, rec Record, expected int64) error {
	filter := idFilter(rec.ProcessID, rec.ID)
	filter["version"] = expected
	res, err := s.coll.ReplaceOne(ctx, filter, toMongoDoc(rec))
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	ok, err := s.Exists(ctx, rec.ProcessID, rec.ID)
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrInstanceNotFound
	}
	return api.ErrVersionConflict
}

func (s *MongoBackend) Get(ctx context.Context, processID, id string) (Record, error) {
	var doc mongoRecordDoc
	err := s.coll.FindOne(ctx, idFilter(processID, id)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, api.ErrInstanceNotFound
		}
		return Record{}, err
	}
	return doc.record(), nil
}

func (s *MongoBackend) Exists(ctx context.Context, processID, id string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, idFilter(processID, id), options.Count().SetLimit(1))
	return n > 0, err
}

func (s *MongoBackend) Delete(ctx context.Context, processID, id string) error {
	_, err := s.coll.DeleteOne(ctx, idFilter(processID, id))
	return err
}

func (s *MongoBackend) List(ctx context.Context, processID string) ([]Record, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"_id.process_id": processID},
		options.Find().SetSort(bson.D{{Key: "_id.id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	for cur.Next(ctx) {
		var doc mongoRecordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.record())
	}
	return out, cur.Err()
}
