package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/procflow/procflow/internal/document"
)

// MongoRepo implements Repository on two collections: "documents" keyed by _id
// with a version integer, and "revisions" with a unique (documentId, rev)
// index that enforces history contiguity even under concurrent writers.
// Writes run inside a session transaction, so the deployment must be a
// replica set (standalone mongod does not support transactions).
type MongoRepo struct {
	client *mongo.Client
	docs   *mongo.Collection
	revs   *mongo.Collection
}

func NewMongoRepo(client *mongo.Client, db string) *MongoRepo {
	docs := client.Database(db).Collection("documents")
	revs := client.Database(db).Collection("revisions")
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "documentId", Value: 1}, {Key: "rev", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	revs.Indexes().CreateOne(context.Background(), idx)
	docs.Indexes().CreateOne(context.Background(), mongo.IndexModel{Keys: bson.D{{Key: "projectId", Value: 1}}})
	docs.Indexes().CreateOne(context.Background(), mongo.IndexModel{Keys: bson.D{{Key: "ownerId", Value: 1}}})
	return &MongoRepo{client: client, docs: docs, revs: revs}
}

func (m *MongoRepo) withTxn(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (m *MongoRepo) Create(ctx context.Context, doc *document.Document, initial *document.Revision) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	initial.CreatedAt = now
	return m.withTxn(ctx, func(sc mongo.SessionContext) error {
		if _, err := m.docs.InsertOne(sc, doc); err != nil {
			return err
		}
		if _, err := m.revs.InsertOne(sc, initial); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return document.ErrRevisionGap
			}
			return err
		}
		return nil
	})
}

func (m *MongoRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	if err := m.docs.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, document.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (m *MongoRepo) list(ctx context.Context, filter bson.M) ([]*document.Document, error) {
	filter["deletedAt"] = bson.M{"$exists": false}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := m.docs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (m *MongoRepo) ListByProject(ctx context.Context, projectID string) ([]*document.Document, error) {
	return m.list(ctx, bson.M{"projectId": projectID})
}

func (m *MongoRepo) ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error) {
	return m.list(ctx, bson.M{"ownerId": ownerID})
}

func (m *MongoRepo) UpdateWithRevision(ctx context.Context, id string, expectedVersion int64, patch document.Patch, snap *document.Revision) (*document.Document, error) {
	snap.CreatedAt = time.Now().UTC()
	set := bson.M{"updatedAt": snap.CreatedAt, "version": expectedVersion + 1}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.Meta != nil {
		set["meta"] = patch.Meta
	}

	var updated document.Document
	err := m.withTxn(ctx, func(sc mongo.SessionContext) error {
		filter := bson.M{
			"_id":       id,
			"version":   expectedVersion,
			"deletedAt": bson.M{"$exists": false},
		}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		if err := m.docs.FindOneAndUpdate(sc, filter, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
			if err != mongo.ErrNoDocuments {
				return err
			}
			// distinguish a stale version from a missing/deleted document
			n, cerr := m.docs.CountDocuments(sc, bson.M{"_id": id, "deletedAt": bson.M{"$exists": false}})
			if cerr != nil {
				return cerr
			}
			if n == 0 {
				return document.ErrNotFound
			}
			return document.ErrVersionMismatch
		}
		if _, err := m.revs.InsertOne(sc, snap); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return document.ErrRevisionGap
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *MongoRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	filter := bson.M{"_id": id, "deletedAt": bson.M{"$exists": false}}
	set := bson.M{"$set": bson.M{"deletedAt": at.UTC(), "updatedAt": at.UTC()}}
	res, err := m.docs.UpdateOne(ctx, filter, set)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (m *MongoRepo) ListRevisions(ctx context.Context, documentID string, limit int, beforeRev int64) ([]*document.Revision, error) {
	if _, err := m.Get(ctx, documentID); err != nil {
		return nil, err
	}
	filter := bson.M{"documentId": documentID}
	if beforeRev > 0 {
		filter["rev"] = bson.M{"$lt": beforeRev}
	}
	opts := options.Find().SetSort(bson.D{{Key: "rev", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.revs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.Revision{}
	for cur.Next(ctx) {
		var r document.Revision
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

func (m *MongoRepo) GetRevision(ctx context.Context, documentID string, rev int64) (*document.Revision, error) {
	var r document.Revision
	err := m.revs.FindOne(ctx, bson.M{"documentId": documentID, "rev": rev}).Decode(&r)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, document.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
