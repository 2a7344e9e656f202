package rules

import (
	"testing"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKYCChecker(t *testing.T) {
	checker := NewKYCChecker(nil, 0)
	watchlist := []store.WatchlistEntry{
		{ID: 1, Name: "Ivan Petrov Holdings", Reason: "sanctioned"},
		{ID: 2, Name: "Jon Smyth", Reason: "PEP"},
	}

	t.Run("clean", func(t *testing.T) {
		f := checker.Check(store.User{ID: uuid.New(), FullName: "Alice Example", Country: "India"}, watchlist)
		assert.Nil(t, f)
	})

	t.Run("high risk country", func(t *testing.T) {
		f := checker.Check(store.User{ID: uuid.New(), FullName: "Alice Example", Country: "north korea"}, watchlist)
		require.NotNil(t, f)
		assert.Equal(t, []string{"from high-risk country: North Korea"}, f.Reasons)
		assert.Equal(t, store.AlertKYCFlag, f.AlertType())
	})

	t.Run("substring match", func(t *testing.T) {
		f := checker.Check(store.User{ID: uuid.New(), FullName: "ivan petrov"}, watchlist)
		require.NotNil(t, f)
		require.Len(t, f.Matches, 1)
		assert.Equal(t, uint(1), f.Matches[0].ID)
	})

	t.Run("fuzzy match and both reasons", func(t *testing.T) {
		f := checker.Check(store.User{ID: uuid.New(), FullName: "Jon Smith", Country: "Iran"}, watchlist)
		require.NotNil(t, f)
		assert.Len(t, f.Reasons, 2)
		assert.Equal(t, "from high-risk country: Iran; matches watchlist: Jon Smyth", f.Message())
	})
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.InDelta(t, 0.888, Similarity("jon smith", "jon smyth"), 0.001)
}
