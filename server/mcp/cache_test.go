package mcp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textContents(text string) []schema.ResourceContent {
	return []schema.ResourceContent{{URI: "doc://a", MimeType: "text/plain", Text: &text}}
}

func TestResourceCache_ServesFromCache(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	loads := 0
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		loads++
		return nil, textContents("v1"), nil
	}

	_, contents, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "v1", *contents[0].Text)

	_, _, err = cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "second read must be served from cache")
}

func TestResourceCache_MetaServedOnHit(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	loads := 0
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		loads++
		return schema.Meta{"revision": "r7"}, textContents("v1"), nil
	}

	meta, _, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, "r7", meta["revision"])

	meta, _, err = cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	require.Equal(t, 1, loads)
	assert.Equal(t, "r7", meta["revision"], "cache hits must carry the handler's meta")
}

func TestResourceCache_NoCacheBypasses(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	loads := 0
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		loads++
		return nil, textContents("fresh"), nil
	}

	_, _, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)

	opts := mcp.DefaultReadOptions()
	opts.NoCache = true
	_, _, err = cache.GetOrLoad("doc://a", opts, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads, "no_cache must consult the handler")
}

func TestResourceCache_NotCacheableNotStored(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	loads := 0
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		loads++
		return nil, textContents("volatile"), nil
	}

	opts := mcp.ReadOptions{Cacheable: false}
	_, _, err := cache.GetOrLoad("doc://a", opts, load)
	require.NoError(t, err)

	_, _, err = cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestResourceCache_MaxAgeExpiry(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	loads := 0
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		loads++
		return nil, textContents("aging"), nil
	}

	opts := mcp.DefaultReadOptions()
	opts.CacheMaxAge = 20 * time.Millisecond

	_, _, err := cache.GetOrLoad("doc://a", opts, load)
	require.NoError(t, err)
	_, _, err = cache.GetOrLoad("doc://a", opts, load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	time.Sleep(30 * time.Millisecond)
	_, _, err = cache.GetOrLoad("doc://a", opts, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads, "expired entry must be reloaded")
}

func TestResourceCache_Invalidate(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	value := "v1"
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		return nil, textContents(value), nil
	}

	_, contents, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, "v1", *contents[0].Text)

	value = "v2"
	cache.Invalidate("doc://a")

	_, contents, err = cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, "v2", *contents[0].Text)
}

func TestResourceCache_LoadErrorNotCached(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	calls := 0
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		calls++
		if calls == 1 {
			return nil, nil, errors.New("backend down")
		}
		return nil, textContents("recovered"), nil
	}

	_, _, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.Error(t, err)

	_, contents, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, "recovered", *contents[0].Text)
}

func TestResourceCache_Remove(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	loads := 0
	load := func() (schema.Meta, []schema.ResourceContent, error) {
		loads++
		return nil, textContents("x"), nil
	}

	_, _, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	cache.Remove("doc://a")
	_, _, err = cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestResourceCache_ReturnsCopy(t *testing.T) {
	cache := mcp.NewResourceCache(time.Minute)

	load := func() (schema.Meta, []schema.ResourceContent, error) {
		return schema.Meta{"revision": "r1"}, textContents("original"), nil
	}

	meta, first, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	mutated := "mutated"
	first[0].Text = &mutated
	meta["revision"] = "tampered"

	meta, second, err := cache.GetOrLoad("doc://a", mcp.DefaultReadOptions(), load)
	require.NoError(t, err)
	assert.Equal(t, "original", *second[0].Text, "callers must not corrupt the cache")
	assert.Equal(t, "r1", meta["revision"])
}
