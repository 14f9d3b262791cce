package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		name := "cpu"
		if i%2 == 1 {
			name = "heap"
		}
		require.NoError(t, s.Save(ctx, &Window{Name: name, From: i, Until: i + 1, Total: 10 * i}))
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, int64(4), all[0].From)

	cpu, err := s.List(ctx, "cpu", 2)
	require.NoError(t, err)
	require.Len(t, cpu, 2)
	assert.Equal(t, int64(4), cpu[0].From)
	assert.Equal(t, int64(2), cpu[1].From)
	assert.NotZero(t, cpu[0].ID)

	none, err := s.List(ctx, "goroutine", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestGormStore_SQLite(t *testing.T) {
	s, err := NewStore(StoreSQLite, "")
	require.NoError(t, err)
	testStore(t, s)
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(StoreMySQL, "")
	assert.Error(t, err)
	_, err = NewStore("postgres", "")
	assert.Error(t, err)
}

func TestParseFolded(t *testing.T) {
	stacks, total, err := parseFolded([]byte("a;b 8\r\n\nc d 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, stacks)
	assert.Equal(t, int64(10), total)
}
