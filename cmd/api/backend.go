package main

import (
	"context"
	"fmt"
	"time"

	"eegportal.org/internal/blob/s3store"
	"eegportal.org/internal/config"
	"eegportal.org/internal/files"
	"eegportal.org/internal/httpapi"
	"eegportal.org/internal/migrate"
	"eegportal.org/internal/obs"
	mongostore "eegportal.org/internal/store/mongo"
	"eegportal.org/internal/store/pg"
	"eegportal.org/internal/users"
)

// backend is the set of stores selected by configuration.
type backend struct {
	users   users.Store
	meta    files.MetadataStore
	blobs   files.BlobStore
	pingers []httpapi.Pinger
	closers []func(context.Context) error
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	be := &backend{}
	ok := false
	defer func() {
		if !ok {
			be.close()
		}
	}()

	var (
		err        error
		pgStore    *pg.Store
		mongoStore *mongostore.Store
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		be.users = users.NewInMemory()
		be.meta = files.NewInMemory()
		obs.Logger().Warn("using in-memory store; data is lost on restart")
	case config.DriverPostgres:
		pgStore, err = pg.Open(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		be.closers = append(be.closers, func(context.Context) error { return pgStore.Close() })
		if cfg.Store.AutoMigrate {
			if err = migrate.NewManager(pgStore.DB()).Up(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		be.users = pgStore.Users()
		be.meta = pgStore.Files()
		be.pingers = append(be.pingers, pgStore)
	case config.DriverMongo:
		mongoStore, err = mongostore.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		be.closers = append(be.closers, mongoStore.Close)
		if err = mongoStore.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		be.users = mongoStore.Users()
		be.meta = mongoStore.Files()
		be.pingers = append(be.pingers, mongoStore)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	switch cfg.BlobDriver() {
	case config.DriverMemory:
		be.blobs = files.NewInMemoryBlobs()
	case config.DriverPostgres:
		be.blobs = pgStore.Blobs()
	case config.DriverMongo:
		be.blobs, err = mongoStore.Blobs()
		if err != nil {
			return nil, fmt.Errorf("open gridfs: %w", err)
		}
	case config.DriverS3:
		s3cfg := cfg.Blob.S3
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:       s3cfg.Bucket,
			Region:       s3cfg.Region,
			Endpoint:     s3cfg.Endpoint,
			AccessKey:    s3cfg.AccessKey,
			SecretKey:    s3cfg.SecretKey,
			UsePathStyle: s3cfg.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3: %w", err)
		}
		be.blobs = store
		be.pingers = append(be.pingers, store)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver())
	}
	ok = true
	return be, nil
}

func (b *backend) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			obs.Logger().WithError(err).Warn("close backend")
		}
	}
}
