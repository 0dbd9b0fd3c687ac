package db

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"vic_tracker/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	opTimeout      = 5 * time.Second
	scanTimeout    = 30 * time.Second
)

type MongoDB struct {
	client        *mongo.Client
	database      *mongo.Database
	authors       *mongo.Collection
	ideas         *mongo.Collection
	authorMetrics *mongo.Collection
	prices        *mongo.Collection
	scrapeLog     *mongo.Collection
	stats         *mongo.Collection
	log           *zap.Logger
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig, log *zap.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, eris.Wrap(err, "connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, eris.Wrap(err, "ping MongoDB")
	}

	d := newMongoDB(client, client.Database(cfg.Database), cfg, log)
	if err := d.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, eris.Wrap(err, "create indexes")
	}
	d.log.Info("connected to MongoDB", zap.String("database", cfg.Database))
	return d, nil
}

func newMongoDB(client *mongo.Client, db *mongo.Database, cfg config.DBConfig, log *zap.Logger) *MongoDB {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoDB{
		client:        client,
		database:      db,
		authors:       db.Collection(cfg.Collections.Authors),
		ideas:         db.Collection(cfg.Collections.Ideas),
		authorMetrics: db.Collection(cfg.Collections.AuthorMetrics),
		prices:        db.Collection(cfg.Collections.Prices),
		scrapeLog:     db.Collection(cfg.Collections.ScrapeLog),
		stats:         db.Collection(cfg.Collections.Stats),
		log:           log.Named("db"),
	}
}

func (d *MongoDB) createIndexes(ctx context.Context) error {
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{d.authors, mongo.IndexModel{Keys: bson.D{{Key: "lastScrapedAt", Value: 1}, {Key: "discoveredAt", Value: 1}}}},
		{d.authors, mongo.IndexModel{Keys: bson.D{{Key: "usernameLower", Value: 1}}}},
		{d.ideas, mongo.IndexModel{Keys: bson.D{{Key: "authorUsername", Value: 1}, {Key: "postedDate", Value: -1}}}},
		{d.ideas, mongo.IndexModel{Keys: bson.D{{Key: "ticker", Value: 1}}}},
		{d.authorMetrics, mongo.IndexModel{Keys: bson.D{{Key: "xirr5yr", Value: -1}}}},
		{d.authorMetrics, mongo.IndexModel{Keys: bson.D{{Key: "usernameLower", Value: 1}}}},
		{d.scrapeLog, mongo.IndexModel{Keys: bson.D{{Key: "jobType", Value: 1}, {Key: "startedAt", Value: -1}}}},
	}

	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateOne(ctx, s.model); err != nil {
			return eris.Wrapf(err, "index on %s", s.coll.Name())
		}
	}
	return nil
}

func (d *MongoDB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return d.client.Ping(ctx, nil)
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return d.client.Disconnect(ctx)
}
