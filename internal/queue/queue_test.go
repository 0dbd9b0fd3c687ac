package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vic_tracker/internal/models"
)

func ptr(t time.Time) *time.Time { return &t }

func TestNext_NeverScrapedThenOldest(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(
		models.Author{Username: "C", LastScrapedAt: ptr(now.Add(-24 * time.Hour))},
		models.Author{Username: "B", LastScrapedAt: ptr(now.Add(-10 * 24 * time.Hour))},
		models.Author{Username: "A"},
	)
	q := NewAuthorQueue(store, zap.NewNop())
	ctx := context.Background()

	var order []string
	for i := 0; i < 3; i++ {
		a, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, a)
		order = append(order, a.Username)
		require.NoError(t, q.MarkScraped(ctx, a.Username))
	}
	assert.Equal(t, []string{"A", "B", "C"}, order)

	a, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", a.Username, "after a full cycle the oldest crawl comes round again")
}

func TestNext_EmptyQueue(t *testing.T) {
	a, err := NewAuthorQueue(NewMemoryStore(), nil).Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestDiscover_KeepsHistory(t *testing.T) {
	last := time.Now().Add(-time.Hour)
	store := NewMemoryStore(models.Author{Username: "mack885", LastScrapedAt: &last})
	q := NewAuthorQueue(store, zap.NewNop())

	added, err := q.Discover(context.Background(), []models.Author{
		{Username: "mack885"},
		{Username: "michael99", ExternalID: "1219"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	got, _ := store.Get("mack885")
	require.NotNil(t, got.LastScrapedAt)
	assert.True(t, got.LastScrapedAt.Equal(last))

	fresh, _ := store.Get("michael99")
	assert.False(t, fresh.DiscoveredAt.IsZero())
	assert.Equal(t, "michael99", fresh.UsernameLower)
}

func TestNextForPriceBackfill_Alphabetical(t *testing.T) {
	done := time.Now()
	store := NewMemoryStore(
		models.Author{Username: "zed"},
		models.Author{Username: "alpha", PricesFetchedAt: &done},
		models.Author{Username: "mid"},
	)
	a, err := NewAuthorQueue(store, nil).NextForPriceBackfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mid", a.Username)
}

func TestBuildProfileURL(t *testing.T) {
	u := BuildProfileURL("https://valueinvestorsclub.com/member/{username}/{userId}",
		models.Author{Username: "mack885", ExternalID: "2190"})
	assert.Equal(t, "https://valueinvestorsclub.com/member/mack885/2190", u)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://valueinvestorsclub.com/idea/Acme/1003001",
		NormalizeURL("https://www.valueinvestorsclub.com/member/x/1", "/idea/Acme/1003001#comments"))
	assert.Equal(t, "https://example.com/a", NormalizeURL("", "//www.example.com/a"))
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
authors:
  - username: mack885
    user_id: "2190"
  - username: mack885
    user_id: "2190"
  - username: michael99
    user_id: "1219"
`), 0o600))

	now := time.Now()
	authors, err := LoadSeedFile(path, now)
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Equal(t, "2190", authors[0].ExternalID)
	assert.Nil(t, authors[0].LastScrapedAt)
	assert.True(t, authors[1].DiscoveredAt.Equal(now))

	require.NoError(t, os.WriteFile(path, []byte("authors:\n  - username: x\n"), 0o600))
	_, err = LoadSeedFile(path, now)
	assert.Error(t, err)
}
