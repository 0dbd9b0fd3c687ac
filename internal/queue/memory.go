package queue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"vic_tracker/internal/models"
)

// ScrapeOrder reports whether a should be crawled before b.
func ScrapeOrder(a, b models.Author) bool {
	switch {
	case a.LastScrapedAt == nil && b.LastScrapedAt != nil:
		return true
	case a.LastScrapedAt != nil && b.LastScrapedAt == nil:
		return false
	case a.LastScrapedAt != nil && !a.LastScrapedAt.Equal(*b.LastScrapedAt):
		return a.LastScrapedAt.Before(*b.LastScrapedAt)
	case !a.DiscoveredAt.Equal(b.DiscoveredAt):
		return a.DiscoveredAt.Before(b.DiscoveredAt)
	}
	return a.Username < b.Username
}

// MemoryStore is an in-process AuthorStore. Queue tests run against it.
type MemoryStore struct {
	mu      sync.Mutex
	authors map[string]models.Author
}

func NewMemoryStore(authors ...models.Author) *MemoryStore {
	s := &MemoryStore{authors: make(map[string]models.Author)}
	for _, a := range authors {
		s.authors[a.Username] = a
	}
	return s
}

func (s *MemoryStore) NextAuthorToScrape(_ context.Context) (*models.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.sorted(ScrapeOrder)
	if len(ordered) == 0 {
		return nil, nil
	}
	return &ordered[0], nil
}

func (s *MemoryStore) NextAuthorForPriceBackfill(_ context.Context) (*models.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.sorted(func(a, b models.Author) bool { return a.Username < b.Username }) {
		if a.PricesFetchedAt == nil {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) MarkScraped(_ context.Context, username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.authors[username]
	if !ok {
		return nil
	}
	a.LastScrapedAt = &at
	s.authors[username] = a
	return nil
}

func (s *MemoryStore) UpsertAuthors(_ context.Context, authors []models.Author) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, a := range authors {
		if _, ok := s.authors[a.Username]; ok {
			continue
		}
		if a.UsernameLower == "" {
			a.UsernameLower = strings.ToLower(a.Username)
		}
		s.authors[a.Username] = a
		added++
	}
	return added, nil
}

// Get returns a copy of one author.
func (s *MemoryStore) Get(username string) (models.Author, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authors[username]
	return a, ok
}

// Size returns the number of known authors.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.authors)
}

func (s *MemoryStore) sorted(less func(a, b models.Author) bool) []models.Author {
	out := make([]models.Author, 0, len(s.authors))
	for _, a := range s.authors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
