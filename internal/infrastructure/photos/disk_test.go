package photos

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	domlivestock "github.com/farmstand/storefront/internal/domain/livestock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStorage(filepath.Join(dir, "animals"), "/uploads/animals/")
	require.NoError(t, err)

	url, err := s.Save(context.Background(), "a1-p1.jpg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/animals/a1-p1.jpg", url)

	got, err := os.ReadFile(filepath.Join(dir, "animals", "a1-p1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(got))

	_, err = s.Save(context.Background(), "a1-p1.jpg", []byte("newer"))
	require.NoError(t, err)
	got, _ = os.ReadFile(filepath.Join(dir, "animals", "a1-p1.jpg"))
	assert.Equal(t, "newer", string(got))
}

func TestSaveStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStorage(dir, "/p")
	require.NoError(t, err)

	url, err := s.Save(context.Background(), "../../etc/cow.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "/p/cow.png", url)
	assert.FileExists(t, filepath.Join(dir, "cow.png"))
}

func TestSaveRejectsHiddenNames(t *testing.T) {
	s, err := NewDiskStorage(t.TempDir(), "/p")
	require.NoError(t, err)

	_, err = s.Save(context.Background(), ".htaccess", []byte("x"))
	assert.ErrorIs(t, err, domlivestock.ErrInvalidPhoto)
}
