// Package mongo implements the user and file stores on MongoDB. Field names
// match the existing users collection so current databases can be mounted
// unchanged.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection = "users"
	filesCollection = "files"
	blobBucket      = "blobs"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique indexes the stores rely on for conflict
// detection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users email index: %w", err)
	}
	if _, err := s.db.Collection(filesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "fileName", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("files name index: %w", err)
	}
	return nil
}

func (s *Store) Users() *Users { return NewUsers(s.db.Collection(usersCollection)) }

func (s *Store) Files() *Files { return NewFiles(s.db.Collection(filesCollection)) }

// Blobs returns the GridFS blob store after checking the bucket options.
func (s *Store) Blobs() (*Blobs, error) {
	if _, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(blobBucket)); err != nil {
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	return &Blobs{db: s.db, name: blobBucket}, nil
}
