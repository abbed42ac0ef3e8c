package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eegportal.org/internal/files"
)

var (
	_ files.MetadataStore = (*Files)(nil)
	_ files.BlobStore     = (*Blobs)(nil)
)

type fileDoc struct {
	ID         string             `bson:"_id"`
	FileName   string             `bson:"fileName"`
	MimeType   string             `bson:"mimeType"`
	Size       int64              `bson:"size"`
	StorageKey string             `bson:"storageKey"`
	CreatedAt  primitive.DateTime `bson:"createdAt"`
}

func (d fileDoc) file() *files.File {
	return &files.File{
		ID:         d.ID,
		FileName:   d.FileName,
		MimeType:   d.MimeType,
		Size:       d.Size,
		StorageKey: d.StorageKey,
		CreatedAt:  d.CreatedAt.Time().UTC(),
	}
}

type Files struct {
	coll *mongo.Collection
}

func NewFiles(coll *mongo.Collection) *Files { return &Files{coll: coll} }

func (s *Files) Create(ctx context.Context, f *files.File) error {
	_, err := s.coll.InsertOne(ctx, fileDoc{
		ID:         f.ID,
		FileName:   f.FileName,
		MimeType:   f.MimeType,
		Size:       f.Size,
		StorageKey: f.StorageKey,
		CreatedAt:  primitive.NewDateTimeFromTime(f.CreatedAt),
	})
	if mongo.IsDuplicateKeyError(err) {
		return files.ErrConflict
	}
	return err
}

func (s *Files) FindByName(ctx context.Context, fileName string) (*files.File, error) {
	var doc fileDoc
	err := s.coll.FindOne(ctx, bson.M{"fileName": fileName}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, files.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.file(), nil
}

func (s *Files) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return files.ErrNotFound
	}
	return nil
}

func (s *Files) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

// Blobs stores payloads in GridFS with the storage key as the file id, which
// lifts the 16 MiB document limit.
type Blobs struct {
	db   *mongo.Database
	name string
}

func (s *Blobs) Put(ctx context.Context, key, contentType string, data []byte) error {
	bucket, err := s.bucket(ctx)
	if err != nil {
		return err
	}
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}})
	if err := bucket.UploadFromStreamWithID(key, key, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("gridfs upload %s: %w", key, err)
	}
	return nil
}

func (s *Blobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	bucket, err := s.bucket(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := bucket.OpenDownloadStream(key)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, files.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *Blobs) Delete(ctx context.Context, key string) error {
	bucket, err := s.bucket(ctx)
	if err != nil {
		return err
	}
	err = bucket.DeleteContext(ctx, key)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil
	}
	return err
}

// bucket returns a per-call handle carrying the context deadline; the
// streaming calls of a bucket take no context and its deadlines are shared by
// every user of the handle.
func (s *Blobs) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(s.name))
	if err != nil {
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := bucket.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		if err := bucket.SetWriteDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return bucket, nil
}
