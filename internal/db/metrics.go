package db

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vic_tracker/internal/models"
)

// LeaderboardSorts are the metric fields a leaderboard may be ranked by.
var LeaderboardSorts = map[string]bool{"xirr5yr": true, "xirr3yr": true, "xirr1yr": true}

func (d *MongoDB) SaveMetrics(ctx context.Context, m models.AuthorMetrics) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := d.authorMetrics.ReplaceOne(ctx, bson.M{"_id": m.Username}, m, options.Replace().SetUpsert(true))
	return eris.Wrapf(err, "save metrics of %s", m.Username)
}

func (d *MongoDB) GetMetrics(ctx context.Context, username string) (*models.AuthorMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var m models.AuthorMetrics
	err := d.authorMetrics.FindOne(ctx, bson.M{"_id": username}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get metrics of %s", username)
	}
	return &m, nil
}

// Leaderboard ranks authors with a value for sortField, best first.
func (d *MongoDB) Leaderboard(ctx context.Context, sortField string, limit, offset int) ([]models.AuthorMetrics, int64, error) {
	if !LeaderboardSorts[sortField] {
		return nil, 0, eris.Errorf("invalid sort field %q", sortField)
	}
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	filter := bson.M{sortField: bson.M{"$ne": nil}}
	total, err := d.authorMetrics.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, eris.Wrap(err, "count leaderboard")
	}

	cursor, err := d.authorMetrics.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: sortField, Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, eris.Wrap(err, "query leaderboard")
	}
	var out []models.AuthorMetrics
	if err := cursor.All(ctx, &out); err != nil {
		return nil, 0, eris.Wrap(err, "decode leaderboard")
	}
	return out, total, nil
}

// SearchLeaderboard finds metrics whose username starts with q.
func (d *MongoDB) SearchLeaderboard(ctx context.Context, q string, limit int) ([]models.AuthorMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := d.authorMetrics.Find(ctx, prefixFilter(q), options.Find().
		SetSort(bson.D{{Key: "xirr5yr", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, eris.Wrap(err, "search leaderboard")
	}
	var out []models.AuthorMetrics
	if err := cursor.All(ctx, &out); err != nil {
		return nil, eris.Wrap(err, "decode search results")
	}
	return out, nil
}

func (d *MongoDB) SavePrice(ctx context.Context, p models.Price) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := d.prices.ReplaceOne(ctx, bson.M{"_id": p.Ticker}, p, options.Replace().SetUpsert(true))
	return eris.Wrapf(err, "save price of %s", p.Ticker)
}

// FreshTickers returns tickers whose price was refreshed at or after since.
func (d *MongoDB) FreshTickers(ctx context.Context, since time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	values, err := d.prices.Distinct(ctx, "_id", bson.M{"updatedAt": bson.M{"$gte": since}})
	if err != nil {
		return nil, eris.Wrap(err, "fresh tickers")
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// CurrentPrices returns the latest known price per ticker. Failed lookups
// are left out.
func (d *MongoDB) CurrentPrices(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	cursor, err := d.prices.Find(ctx, bson.M{"fetchFailed": bson.M{"$ne": true}, "currentPrice": bson.M{"$ne": nil}})
	if err != nil {
		return nil, eris.Wrap(err, "list prices")
	}
	var rows []models.Price
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, eris.Wrap(err, "decode prices")
	}
	out := make(map[string]float64, len(rows))
	for _, p := range rows {
		if p.CurrentPrice != nil {
			out[p.Ticker] = *p.CurrentPrice
		}
	}
	return out, nil
}

type countSpec struct {
	coll   *mongo.Collection
	filter bson.M
	dst    *int64
}

// ComputeStats counts the collections without storing the result.
func (d *MongoDB) ComputeStats(ctx context.Context) (models.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	s := models.Stats{ID: models.StatsID, LastUpdated: time.Now().UTC()}
	counts := []countSpec{
		{d.authors, bson.M{}, &s.TotalAuthors},
		{d.authors, bson.M{"lastScrapedAt": bson.M{"$ne": nil}}, &s.AuthorsScraped},
		{d.ideas, bson.M{}, &s.TotalIdeas},
		{d.ideas, bson.M{"priceAtRec": bson.M{"$gt": 0}}, &s.IdeasWithPrices},
		{d.authorMetrics, bson.M{"xirr5yr": bson.M{"$ne": nil}}, &s.AuthorsWithXIRR},
		{d.prices, bson.M{}, &s.TrackedTickers},
	}

	for _, c := range counts {
		n, err := c.coll.CountDocuments(ctx, c.filter)
		if err != nil {
			return s, eris.Wrapf(err, "count %s", c.coll.Name())
		}
		*c.dst = n
	}
	return s, nil
}

// RefreshStats recomputes and stores the aggregate stats document.
func (d *MongoDB) RefreshStats(ctx context.Context) (models.Stats, error) {
	s, err := d.ComputeStats(ctx)
	if err != nil {
		return s, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := d.stats.ReplaceOne(ctx, bson.M{"_id": models.StatsID}, s, options.Replace().SetUpsert(true)); err != nil {
		return s, eris.Wrap(err, "save stats")
	}
	return s, nil
}

// GetStats returns the stored aggregate stats, nil before the first refresh.
func (d *MongoDB) GetStats(ctx context.Context) (*models.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var s models.Stats
	err := d.stats.FindOne(ctx, bson.M{"_id": models.StatsID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "get stats")
	}
	return &s, nil
}
