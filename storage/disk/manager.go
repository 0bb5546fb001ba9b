package disk

import (
	"io"
	"os"
	"sync"

	"github.com/juju/errors"
)

// Manager is the I/O boundary underneath the buffer pool. Page numbers are
// dense offsets into a single data file.
type Manager interface {
	// ReadPage reads page pageNo into buf. buf must be exactly one page long.
	ReadPage(pageNo uint64, buf []byte) error

	// WritePage writes one page at pageNo.
	WritePage(pageNo uint64, data []byte) error

	// WritePages writes len(pages) contiguous pages starting at startNo in a
	// single call, so coalesced flush batches hit the disk as one write.
	WritePages(startNo uint64, pages [][]byte) error

	// Allocate reserves the next page number.
	Allocate() (uint64, error)

	// Sync flushes the file to stable storage.
	Sync() error

	Close() error
}

// FileManager is a Manager over a single data file.
type FileManager struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	nextPage uint64
}

// NewFileManager opens (or creates) the data file at path.
func NewFileManager(path string, pageSize int) (*FileManager, error) {
	if pageSize <= 0 {
		return nil, errors.NotValidf("page size %d", pageSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Annotatef(err, "open data file %s", path)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Annotatef(err, "stat data file %s", path)
	}

	return &FileManager{
		file:     file,
		pageSize: pageSize,
		nextPage: uint64(info.Size()) / uint64(pageSize),
	}, nil
}

func (m *FileManager) ReadPage(pageNo uint64, buf []byte) error {
	if len(buf) != m.pageSize {
		return errors.NotValidf("read buffer of %d bytes", len(buf))
	}

	offset := int64(pageNo) * int64(m.pageSize)
	n, err := m.file.ReadAt(buf, offset)
	if err == io.EOF && n == 0 {
		// Page beyond the current file size reads back as zeroes. The file
		// grows lazily, only when the page is first written.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err != nil && err != io.EOF {
		return errors.Annotatef(err, "read page %d", pageNo)
	}
	if n < m.pageSize {
		for i := n; i < m.pageSize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

func (m *FileManager) WritePage(pageNo uint64, data []byte) error {
	if len(data) != m.pageSize {
		return errors.NotValidf("page of %d bytes", len(data))
	}

	offset := int64(pageNo) * int64(m.pageSize)
	if _, err := m.file.WriteAt(data, offset); err != nil {
		return errors.Annotatef(err, "write page %d", pageNo)
	}

	m.mu.Lock()
	if pageNo >= m.nextPage {
		m.nextPage = pageNo + 1
	}
	m.mu.Unlock()
	return nil
}

func (m *FileManager) WritePages(startNo uint64, pages [][]byte) error {
	if len(pages) == 0 {
		return nil
	}

	// One contiguous WriteAt for the whole run.
	batch := make([]byte, 0, len(pages)*m.pageSize)
	for i, page := range pages {
		if len(page) != m.pageSize {
			return errors.NotValidf("page %d of %d bytes in batch", startNo+uint64(i), len(page))
		}
		batch = append(batch, page...)
	}

	offset := int64(startNo) * int64(m.pageSize)
	if _, err := m.file.WriteAt(batch, offset); err != nil {
		return errors.Annotatef(err, "write %d pages starting at %d", len(pages), startNo)
	}

	m.mu.Lock()
	end := startNo + uint64(len(pages))
	if end > m.nextPage {
		m.nextPage = end
	}
	m.mu.Unlock()
	return nil
}

func (m *FileManager) Allocate() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pageNo := m.nextPage
	m.nextPage++
	return pageNo, nil
}

func (m *FileManager) Sync() error {
	if err := m.file.Sync(); err != nil {
		return errors.Annotate(err, "sync data file")
	}
	return nil
}

func (m *FileManager) Close() error {
	return m.file.Close()
}
