package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Options{DefaultExpiration: time.Minute})

	require.NoError(t, c.Set(ctx, "a", entry{Name: "x", Count: 2}, 0))

	var got entry
	found, err := c.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entry{Name: "x", Count: 2}, got)

	found, err = c.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryExpiration(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Options{})

	require.NoError(t, c.Set(ctx, "short", 1, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var v int
	found, err := c.Get(ctx, "short", &v)
	require.NoError(t, err)
	assert.False(t, found)

	c.deleteExpired()
	assert.Equal(t, 0, c.Count())
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Options{})
	chatID := uuid.New()

	require.NoError(t, c.Set(ctx, ChatBranchesKey(chatID, time.Unix(1, 0)), "branches", 0))
	require.NoError(t, c.Set(ctx, ChatBranchesKey(chatID, time.Unix(2, 0)), "branches", 0))
	require.NoError(t, c.Set(ctx, PublicPersonaListKey(20, 0), "page0", 0))
	require.NoError(t, c.Set(ctx, PublicPersonaListKey(20, 20), "page1", 0))
	require.NoError(t, c.Set(ctx, UserKey("u1"), true, 0))

	require.NoError(t, c.InvalidatePrefix(ctx, ChatBranchesPrefix(chatID)))
	require.NoError(t, c.InvalidatePrefix(ctx, PublicPersonaListPrefix))

	assert.Equal(t, 1, c.Count())
	var ok bool
	found, err := c.Get(ctx, UserKey("u1"), &ok)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Options{MaxItems: 2})

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 2, time.Hour))
	require.NoError(t, c.Set(ctx, "c", 3, time.Hour))

	assert.Equal(t, 2, c.Count())
	var v int
	found, _ := c.Get(ctx, "a", &v)
	assert.False(t, found)
}
