package artifact

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache(5*time.Minute, 1<<20)

	id := c.Put("session-1", []byte("hello"), "audio/wav")
	require.NotEmpty(t, id)

	data, ct, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, "audio/wav", ct)
}

func TestCacheGetMissing(t *testing.T) {
	c := NewCache(5*time.Minute, 1<<20)
	_, _, ok := c.Get("does-not-exist")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10*time.Millisecond, 1<<20)
	id := c.Put("session-1", []byte("hello"), "audio/wav")

	time.Sleep(30 * time.Millisecond)

	_, _, ok := c.Get(id)
	assert.False(t, ok)
}

func TestCacheEvictsOverCapByLRU(t *testing.T) {
	c := NewCache(5*time.Minute, 10) // 10 bytes total

	idA := c.Put("s1", []byte("aaaaa"), "audio/wav") // 5 bytes
	idB := c.Put("s1", []byte("bbbbb"), "audio/wav") // 5 bytes, total 10, still within cap

	// Touch A so it's most-recently-used, then push a third entry over cap.
	_, _, _ = c.Get(idA)
	idC := c.Put("s1", []byte("ccccc"), "audio/wav") // pushes total to 15, evicts B (LRU)

	_, _, okA := c.Get(idA)
	_, _, okB := c.Get(idB)
	_, _, okC := c.Get(idC)

	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestCacheDropSession(t *testing.T) {
	c := NewCache(5*time.Minute, 1<<20)

	id1 := c.Put("session-1", []byte("a"), "audio/wav")
	id2 := c.Put("session-2", []byte("b"), "audio/wav")

	c.DropSession("session-1")

	_, _, ok1 := c.Get(id1)
	_, _, ok2 := c.Get(id2)
	assert.False(t, ok1)
	assert.True(t, ok2)
}

func TestPublisherPublish(t *testing.T) {
	c := NewCache(5*time.Minute, 1<<20)
	p := NewPublisher(c, "/audio")

	url, err := p.Publish(context.Background(), "session-1", []byte("abc"), "audio/wav")
	require.NoError(t, err)
	assert.Regexp(t, `^/audio/[0-9a-f-]+$`, url)
}

func TestHandleGetServesArtifact(t *testing.T) {
	c := NewCache(5*time.Minute, 1<<20)
	id := c.Put("session-1", []byte("audio-bytes"), "audio/wav")

	router := mux.NewRouter()
	RegisterRoutes(router, c, "/audio")

	req := httptest.NewRequest("GET", "/audio/"+id, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "audio-bytes", rec.Body.String())
}

func TestHandleGetMissingReturns404(t *testing.T) {
	c := NewCache(5*time.Minute, 1<<20)

	router := mux.NewRouter()
	RegisterRoutes(router, c, "/audio")

	req := httptest.NewRequest("GET", "/audio/nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}
