package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 5, 20, 9, 15, 0, 0, time.UTC)
	id := "txn_abc123"

	encoded := Encode(ts, id)
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.CreatedAt)
	assert.Equal(t, id, cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestDecode_MissingSeparator(t *testing.T) {
	// Valid base64 but no | separator
	_, err := Decode("bm9waXBl")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestComputePage(t *testing.T) {
	key := func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	}

	t.Run("no more", func(t *testing.T) {
		items, cursor, hasMore := ComputePage([]string{"a", "b"}, 5, key)
		assert.Len(t, items, 2)
		assert.Empty(t, cursor)
		assert.False(t, hasMore)
	})

	t.Run("has more", func(t *testing.T) {
		items, cursor, hasMore := ComputePage([]string{"a", "b", "c", "d"}, 3, key)
		assert.Len(t, items, 3)
		assert.True(t, hasMore)

		c, err := Decode(cursor)
		require.NoError(t, err)
		assert.Equal(t, "c", c.ID)
	})

	t.Run("exact limit", func(t *testing.T) {
		items, cursor, hasMore := ComputePage([]string{"a", "b", "c"}, 3, key)
		assert.Len(t, items, 3)
		assert.Empty(t, cursor)
		assert.False(t, hasMore)
	})
}
