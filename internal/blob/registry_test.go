package blob

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconidentify/canvasgrab/internal/domain"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_CreateOpen(t *testing.T) {
	r := testRegistry()

	loc := r.Create([]byte("video bytes"), "video/mp4")
	require.True(t, strings.HasPrefix(loc, LocatorPrefix))

	rc, size, ct, err := r.Open(loc)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))
	assert.Equal(t, int64(11), size)
	assert.Equal(t, "video/mp4", ct)
	assert.Equal(t, int64(11), r.Bytes())
}

func TestRegistry_UniqueLocators(t *testing.T) {
	r := testRegistry()

	a := r.Create([]byte("a"), "")
	b := r.Create([]byte("a"), "")

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Revoke(t *testing.T) {
	r := testRegistry()
	loc := r.Create([]byte("x"), "audio/mpeg")

	assert.True(t, r.Revoke(loc))
	assert.False(t, r.Revoke(loc))
	assert.Equal(t, 0, r.Len())

	_, _, _, err := r.Open(loc)
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
}

func TestRegistry_RevokeAfter(t *testing.T) {
	r := testRegistry()
	loc := r.Create([]byte("x"), "video/mp4")

	r.RevokeAfter(loc, 20*time.Millisecond)
	assert.Equal(t, 1, r.Len(), "blob should live until the delay elapses")

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_RevokeAfterUnknownLocator(t *testing.T) {
	r := testRegistry()
	r.RevokeAfter("blob:canvasgrab/missing", time.Millisecond)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RevokeAll(t *testing.T) {
	r := testRegistry()
	a := r.Create([]byte("a"), "")
	r.Create([]byte("b"), "")
	r.RevokeAfter(a, time.Hour)

	r.RevokeAll()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(0), r.Bytes())
}
