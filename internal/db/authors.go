package db

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vic_tracker/internal/models"
)

func (d *MongoDB) findOneAuthor(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*models.Author, error) {
	var a models.Author
	err := d.authors.FindOne(ctx, filter, opts).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// NextAuthorToScrape returns a never-scraped author if any exists, else the
// one scraped longest ago. Nil when the collection is empty.
func (d *MongoDB) NextAuthorToScrape(ctx context.Context) (*models.Author, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	a, err := d.findOneAuthor(ctx,
		bson.M{"lastScrapedAt": nil},
		options.FindOne().SetSort(bson.D{{Key: "discoveredAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil || a != nil {
		return a, eris.Wrap(err, "find never-scraped author")
	}

	a, err = d.findOneAuthor(ctx,
		bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "lastScrapedAt", Value: 1}, {Key: "_id", Value: 1}}))
	return a, eris.Wrap(err, "find stalest author")
}

// NextAuthorForPriceBackfill returns the first author by username whose
// price backfill has not completed.
func (d *MongoDB) NextAuthorForPriceBackfill(ctx context.Context) (*models.Author, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	a, err := d.findOneAuthor(ctx,
		bson.M{"pricesFetchedAt": nil},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}}))
	return a, eris.Wrap(err, "find backfill author")
}

func (d *MongoDB) MarkScraped(ctx context.Context, username string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := d.authors.UpdateOne(ctx,
		bson.M{"_id": username},
		bson.M{"$set": bson.M{"lastScrapedAt": at}})
	if err != nil {
		return eris.Wrapf(err, "mark %s scraped", username)
	}
	if res.MatchedCount == 0 {
		return eris.Errorf("author %s not found", username)
	}
	return nil
}

// MarkPricesFetched completes an author's price backfill.
func (d *MongoDB) MarkPricesFetched(ctx context.Context, username string, noRecentIdeas bool, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set := bson.M{"pricesFetchedAt": at}
	if noRecentIdeas {
		set["noRecentIdeas"] = true
	}
	_, err := d.authors.UpdateOne(ctx, bson.M{"_id": username}, bson.M{"$set": set})
	return eris.Wrapf(err, "mark %s prices fetched", username)
}

// UpsertAuthors inserts unknown authors and leaves known ones untouched
// apart from filling a missing external id. Returns how many were new.
func (d *MongoDB) UpsertAuthors(ctx context.Context, authors []models.Author) (int, error) {
	if len(authors) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	writes := make([]mongo.WriteModel, 0, len(authors))
	for _, a := range authors {
		insert := bson.M{
			"usernameLower":   strings.ToLower(a.Username),
			"discoveredAt":    a.DiscoveredAt,
			"lastScrapedAt":   nil,
			"pricesFetchedAt": nil,
		}
		update := bson.M{"$setOnInsert": insert}
		if a.ExternalID != "" {
			insert["externalId"] = a.ExternalID
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": a.Username}).
			SetUpdate(update).
			SetUpsert(true))
	}

	res, err := d.authors.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, eris.Wrap(err, "upsert authors")
	}
	return int(res.UpsertedCount), nil
}

func (d *MongoDB) GetAuthor(ctx context.Context, username string) (*models.Author, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	a, err := d.findOneAuthor(ctx, bson.M{"_id": username}, nil)
	return a, eris.Wrapf(err, "get author %s", username)
}

func (d *MongoDB) ListAuthors(ctx context.Context) ([]models.Author, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	cursor, err := d.authors.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, eris.Wrap(err, "list authors")
	}
	var out []models.Author
	if err := cursor.All(ctx, &out); err != nil {
		return nil, eris.Wrap(err, "decode authors")
	}
	return out, nil
}

// prefixFilter matches usernameLower starting with q, case-insensitively.
func prefixFilter(q string) bson.M {
	return bson.M{"usernameLower": bson.M{"$regex": "^" + regexp.QuoteMeta(strings.ToLower(q))}}
}
