package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/filewarden/filewarden/internal/domain"
)

func TestFileCache_SetGetDelete(t *testing.T) {
	c := NewFileCache(time.Minute)
	defer c.Stop()

	file := &domain.StorageFile{ID: uuid.New(), OriginalName: "report.pdf", Size: 100}

	_, ok := c.Get(file.ID)
	require.False(t, ok)

	c.Set(file)

	got, ok := c.Get(file.ID)
	require.True(t, ok)
	require.Equal(t, file.OriginalName, got.OriginalName)

	c.Delete(file.ID)
	_, ok = c.Get(file.ID)
	require.False(t, ok)
}

func TestFileCache_ReturnsCopy(t *testing.T) {
	c := NewFileCache(time.Minute)
	defer c.Stop()

	file := &domain.StorageFile{ID: uuid.New(), Description: "original"}
	c.Set(file)

	got, ok := c.Get(file.ID)
	require.True(t, ok)
	got.Description = "mutated"

	again, ok := c.Get(file.ID)
	require.True(t, ok)
	require.Equal(t, "original", again.Description)
}

func TestFileCache_TTLExpiry(t *testing.T) {
	c := NewFileCache(10 * time.Millisecond)
	defer c.Stop()

	file := &domain.StorageFile{ID: uuid.New()}
	c.Set(file)

	_, ok := c.Get(file.ID)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get(file.ID)
	require.False(t, ok)
}

func TestFileCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewFileCache(0)
	defer c.Stop()

	file := &domain.StorageFile{ID: uuid.New()}
	c.Set(file)

	time.Sleep(10 * time.Millisecond)

	_, ok := c.Get(file.ID)
	require.True(t, ok)
}

func TestFileCache_StopIsIdempotent(t *testing.T) {
	c := NewFileCache(time.Minute)
	c.Stop()
	c.Stop()
}
