// Package queue decides which author is crawled next.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/models"
)

// AuthorStore is the persistence the queue needs.
type AuthorStore interface {
	NextAuthorToScrape(ctx context.Context) (*models.Author, error)
	NextAuthorForPriceBackfill(ctx context.Context) (*models.Author, error)
	MarkScraped(ctx context.Context, username string, at time.Time) error
	UpsertAuthors(ctx context.Context, authors []models.Author) (int, error)
}

// AuthorQueue orders authors so that never-crawled ones go first, then the
// least recently crawled.
type AuthorQueue struct {
	store AuthorStore
	log   *zap.Logger
	now   func() time.Time
}

func NewAuthorQueue(store AuthorStore, log *zap.Logger) *AuthorQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthorQueue{store: store, log: log.Named("queue"), now: time.Now}
}

// Next returns the author to crawl, or nil when there are none.
func (q *AuthorQueue) Next(ctx context.Context) (*models.Author, error) {
	a, err := q.store.NextAuthorToScrape(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "select next author")
	}
	if a == nil {
		q.log.Info("author queue is empty")
		return nil, nil
	}
	q.log.Info("selected author",
		zap.String("username", a.Username),
		zap.Bool("never_scraped", a.LastScrapedAt == nil))
	return a, nil
}

// MarkScraped records a completed crawl. Call it only after the author's
// ideas were persisted.
func (q *AuthorQueue) MarkScraped(ctx context.Context, username string) error {
	if err := q.store.MarkScraped(ctx, username, q.now().UTC()); err != nil {
		return eris.Wrapf(err, "mark %s scraped", username)
	}
	return nil
}

// NextForPriceBackfill returns the first author, alphabetically, whose price
// backfill has not completed.
func (q *AuthorQueue) NextForPriceBackfill(ctx context.Context) (*models.Author, error) {
	a, err := q.store.NextAuthorForPriceBackfill(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "select next backfill author")
	}
	return a, nil
}

// Discover adds authors that are not known yet. Existing authors keep their
// crawl history.
func (q *AuthorQueue) Discover(ctx context.Context, authors []models.Author) (int, error) {
	if len(authors) == 0 {
		return 0, nil
	}
	now := q.now().UTC()
	for i := range authors {
		if authors[i].DiscoveredAt.IsZero() {
			authors[i].DiscoveredAt = now
		}
	}
	added, err := q.store.UpsertAuthors(ctx, authors)
	if err != nil {
		return 0, eris.Wrap(err, "discover authors")
	}
	q.log.Info("authors discovered", zap.Int("submitted", len(authors)), zap.Int("added", added))
	return added, nil
}
