package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	c, err := Decode(Encode(at, "anom_42|x"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, at.Equal(c.CreatedAt))
	assert.Equal(t, "anom_42|x", c.ID, "only the first separator splits")
}

func TestDecode(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{"!!!", "bm9zZXBhcmF0b3I", "YWJjfGlk", "MTIzfA"} {
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestComputePage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	type item struct {
		at time.Time
		id string
	}
	items := []item{{base.Add(3), "c"}, {base.Add(2), "b"}, {base.Add(1), "a"}}
	key := func(i item) (time.Time, string) { return i.at, i.id }

	page, next, more := ComputePage(items, 2, key)
	assert.Len(t, page, 2)
	assert.True(t, more)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	page, next, more = ComputePage(items, 3, key)
	assert.Len(t, page, 3)
	assert.False(t, more)
	assert.Empty(t, next)
}
