package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo is the Store backed by a MongoDB database. Each collection name maps to a
// Mongo collection and document ids are stored in _id.
type Mongo struct {
	db *mongo.Database
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

// Connect dials uri, pings the deployment and returns a Store on database name.
func Connect(ctx context.Context, uri, name string) (*Mongo, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	log.WithField("database", name).Info("Connected to MongoDB")
	return NewMongo(client.Database(name)), client, nil
}

// Health pings the deployment.
func (s *Mongo) Health(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates the unique indexes. Existing identical indexes are left alone.
func (s *Mongo) EnsureIndexes(ctx context.Context, indexes []Index) error {
	for _, idx := range indexes {
		keys := bson.D{}
		for _, f := range idx.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		opts := options.Index().SetUnique(true)
		if len(idx.Partial) > 0 {
			opts.SetPartialFilterExpression(buildFilter(idx.Partial))
		}
		name, err := s.db.Collection(idx.Collection).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts})
		if err != nil {
			return fmt.Errorf("create index on %s %v: %w", idx.Collection, idx.Fields, err)
		}
		log.WithFields(log.Fields{"collection": idx.Collection, "index": name}).Debug("Index ensured")
	}
	return nil
}

func (s *Mongo) Get(ctx context.Context, collection, id string, out any) (err error) {
	defer func() { observe(collection, "get", err) }()
	err = s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return validate(out)
}

func (s *Mongo) Create(ctx context.Context, collection, id string, doc any) (err error) {
	defer func() { observe(collection, "create", err) }()
	d, err := toDocument(id, doc)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).InsertOne(ctx, d)
	return translateWriteError(err)
}

func (s *Mongo) Set(ctx context.Context, collection, id string, doc any) (err error) {
	defer func() { observe(collection, "set", err) }()
	filter, d, opts, err := buildReplace(id, doc)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).ReplaceOne(ctx, filter, d, opts)
	return translateWriteError(err)
}

func (s *Mongo) Update(ctx context.Context, collection, id string, update Update) (err error) {
	defer func() { observe(collection, "update", err) }()
	u, err := buildUpdate(update)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, u)
	if err != nil {
		return translateWriteError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) Query(ctx context.Context, collection string, filters []Filter, out any) (err error) {
	defer func() { observe(collection, "query", err) }()
	cursor, err := s.db.Collection(collection).Find(ctx, buildFilter(filters))
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, out); err != nil {
		return err
	}
	return validate(out)
}

func (s *Mongo) Delete(ctx context.Context, collection, id string) (err error) {
	defer func() { observe(collection, "delete", err) }()
	_, err = s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// buildReplace returns the ReplaceOne arguments for a full-document upsert of id.
func buildReplace(id string, doc any) (bson.M, bson.M, *options.ReplaceOptions, error) {
	d, err := toDocument(id, doc)
	if err != nil {
		return nil, nil, nil, err
	}
	return bson.M{"_id": id}, d, options.Replace().SetUpsert(true), nil
}

// buildUpdate translates an Update into Mongo update operators.
func buildUpdate(update Update) (bson.M, error) {
	if len(update) == 0 {
		return nil, fmt.Errorf("%w: empty update", ErrInvalidUpdate)
	}
	set := bson.M{}
	unset := bson.M{}
	addToSet := bson.M{}
	pull := bson.M{}
	for path, value := range update {
		switch op := value.(type) {
		case deleteField:
			unset[path] = ""
		case ArrayUnionOp:
			addToSet[path] = bson.M{"$each": op.Values}
		case ArrayRemoveOp:
			pull[path] = bson.M{"$in": op.Values}
		default:
			set[path] = value
		}
	}
	out := bson.M{}
	if len(set) > 0 {
		out["$set"] = set
	}
	if len(unset) > 0 {
		out["$unset"] = unset
	}
	if len(addToSet) > 0 {
		out["$addToSet"] = addToSet
	}
	if len(pull) > 0 {
		out["$pull"] = pull
	}
	return out, nil
}

// buildFilter ANDs the filters. Mongo equality on an array field already means
// containment, so both ops translate to a plain field match.
func buildFilter(filters []Filter) bson.D {
	out := bson.D{}
	for _, f := range filters {
		out = append(out, bson.E{Key: f.Field, Value: f.Value})
	}
	return out
}
