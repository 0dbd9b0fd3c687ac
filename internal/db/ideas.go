package db

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vic_tracker/internal/models"
)

// IdeaIDsByAuthor returns the set of persisted idea ids for an author.
func (d *MongoDB) IdeaIDsByAuthor(ctx context.Context, username string) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	cursor, err := d.ideas.Find(ctx,
		bson.M{"authorUsername": username},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, eris.Wrapf(err, "list idea ids of %s", username)
	}
	defer cursor.Close(ctx)

	type idOnly struct {
		ID bson.RawValue `bson:"_id"`
	}
	ids := make(map[string]struct{})
	for cursor.Next(ctx) {
		var row idOnly
		if err := cursor.Decode(&row); err != nil {
			return nil, eris.Wrapf(err, "decode idea id of %s", username)
		}
		id, ok := ideaID(row.ID)
		if !ok {
			return nil, eris.Errorf("idea of %s has unsupported _id type %s", username, row.ID.Type)
		}
		ids[id] = struct{}{}
	}
	if err := cursor.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate idea ids")
	}
	return ids, nil
}

// ideaID reads an idea _id as the string form the crawler produces. Numeric
// ids from imported documents map to the same string.
func ideaID(v bson.RawValue) (string, bool) {
	if s, ok := v.StringValueOK(); ok {
		return s, true
	}
	if n, ok := v.Int32OK(); ok {
		return strconv.FormatInt(int64(n), 10), true
	}
	if n, ok := v.Int64OK(); ok {
		return strconv.FormatInt(n, 10), true
	}
	if f, ok := v.DoubleOK(); ok && f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// InsertIdea stores an idea unless one with the same id exists. Existing
// ideas are never modified. Reports whether a new document was written.
func (d *MongoDB) InsertIdea(ctx context.Context, idea models.Idea) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if idea.ScrapedAt.IsZero() {
		idea.ScrapedAt = time.Now().UTC()
	}

	doc, err := toDoc(idea)
	if err != nil {
		return false, err
	}
	delete(doc, "_id")

	res, err := d.ideas.UpdateOne(ctx,
		bson.M{"_id": idea.ExternalIdeaID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		return false, eris.Wrapf(err, "insert idea %s", idea.ExternalIdeaID)
	}
	return res.UpsertedCount == 1, nil
}

func toDoc(v any) (bson.M, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "marshal document")
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "unmarshal document")
	}
	return doc, nil
}

func (d *MongoDB) IdeasByAuthor(ctx context.Context, username string) ([]models.Idea, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	cursor, err := d.ideas.Find(ctx,
		bson.M{"authorUsername": username},
		options.Find().SetSort(bson.D{{Key: "postedDate", Value: -1}}))
	if err != nil {
		return nil, eris.Wrapf(err, "list ideas of %s", username)
	}
	var out []models.Idea
	if err := cursor.All(ctx, &out); err != nil {
		return nil, eris.Wrap(err, "decode ideas")
	}
	return out, nil
}

// HasIdeasSince reports whether the author posted anything on or after since.
func (d *MongoDB) HasIdeasSince(ctx context.Context, username string, since time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := d.ideas.CountDocuments(ctx,
		bson.M{"authorUsername": username, "postedDate": bson.M{"$gte": since}},
		options.Count().SetLimit(1))
	if err != nil {
		return false, eris.Wrapf(err, "count recent ideas of %s", username)
	}
	return n > 0, nil
}

// IdeasMissingPrice lists the author's ideas since the cutoff that still
// have no entry price, oldest first.
func (d *MongoDB) IdeasMissingPrice(ctx context.Context, username string, since time.Time, limit int) ([]models.Idea, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "postedDate", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := d.ideas.Find(ctx, bson.M{
		"authorUsername": username,
		"priceAtRec":     nil,
		"postedDate":     bson.M{"$gte": since},
	}, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "list unpriced ideas of %s", username)
	}
	var out []models.Idea
	if err := cursor.All(ctx, &out); err != nil {
		return nil, eris.Wrap(err, "decode ideas")
	}
	return out, nil
}

// SetIdeaPrice records the entry price once. An idea that already has a
// price, or the failure sentinel, is left alone.
func (d *MongoDB) SetIdeaPrice(ctx context.Context, ideaID string, price float64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := d.ideas.UpdateOne(ctx,
		bson.M{"_id": ideaID, "priceAtRec": nil},
		bson.M{"$set": bson.M{"priceAtRec": price, "priceFetchedAt": time.Now().UTC()}})
	return eris.Wrapf(err, "set price of idea %s", ideaID)
}

// Tickers returns every distinct ticker with at least one idea.
func (d *MongoDB) Tickers(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	values, err := d.ideas.Distinct(ctx, "ticker", bson.M{"ticker": bson.M{"$ne": ""}})
	if err != nil {
		return nil, eris.Wrap(err, "distinct tickers")
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
