package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileManagerReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "granite.db")
	mgr, err := NewFileManager(path, 4096)
	require.NoError(t, err)
	defer mgr.Close()

	page := make([]byte, 4096)
	copy(page, []byte("hello"))
	require.NoError(t, mgr.WritePage(3, page))

	buf := make([]byte, 4096)
	require.NoError(t, mgr.ReadPage(3, buf))
	assert.Equal(t, page, buf)
}

func TestFileManagerReadBeyondEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "granite.db")
	mgr, err := NewFileManager(path, 4096)
	require.NoError(t, err)
	defer mgr.Close()

	buf := make([]byte, 4096)
	buf[0] = 0xFF
	require.NoError(t, mgr.ReadPage(100, buf))
	assert.Equal(t, byte(0), buf[0], "unwritten page should read back zeroed")
}

func TestFileManagerWritePagesBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "granite.db")
	mgr, err := NewFileManager(path, 4096)
	require.NoError(t, err)
	defer mgr.Close()

	pages := make([][]byte, 4)
	for i := range pages {
		pages[i] = make([]byte, 4096)
		pages[i][0] = byte(i + 1)
	}
	require.NoError(t, mgr.WritePages(10, pages))

	buf := make([]byte, 4096)
	for i := range pages {
		require.NoError(t, mgr.ReadPage(10+uint64(i), buf))
		assert.Equal(t, byte(i+1), buf[0])
	}
}

func TestFileManagerAllocate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "granite.db")
	mgr, err := NewFileManager(path, 4096)
	require.NoError(t, err)
	defer mgr.Close()

	first, err := mgr.Allocate()
	require.NoError(t, err)
	second, err := mgr.Allocate()
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestMemManagerInjectedFailures(t *testing.T) {
	mgr := NewMemManager(4096)

	page := make([]byte, 4096)
	require.NoError(t, mgr.WritePage(0, page))

	mgr.FailReads = true
	err := mgr.ReadPage(0, page)
	assert.Error(t, err)

	mgr.FailReads = false
	mgr.FailWrites = true
	err = mgr.WritePage(1, page)
	assert.Error(t, err)
	assert.Nil(t, mgr.PageData(1))
}
