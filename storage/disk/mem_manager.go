package disk

import (
	"sync"

	"github.com/juju/errors"
)

// MemManager is an in-memory Manager for tests. Read and write failures can
// be injected to exercise I/O error paths.
type MemManager struct {
	mu       sync.Mutex
	pages    map[uint64][]byte
	pageSize int
	nextPage uint64

	FailReads  bool
	FailWrites bool

	reads  int
	writes int
}

// NewMemManager creates an empty in-memory manager.
func NewMemManager(pageSize int) *MemManager {
	return &MemManager{
		pages:    make(map[uint64][]byte),
		pageSize: pageSize,
	}
}

func (m *MemManager) ReadPage(pageNo uint64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailReads {
		return errors.Errorf("injected read failure for page %d", pageNo)
	}
	if len(buf) != m.pageSize {
		return errors.NotValidf("read buffer of %d bytes", len(buf))
	}

	m.reads++
	if page, ok := m.pages[pageNo]; ok {
		copy(buf, page)
		return nil
	}
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (m *MemManager) WritePage(pageNo uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(pageNo, data)
}

func (m *MemManager) WritePages(startNo uint64, pages [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, page := range pages {
		if err := m.writeLocked(startNo+uint64(i), page); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemManager) writeLocked(pageNo uint64, data []byte) error {
	if m.FailWrites {
		return errors.Errorf("injected write failure for page %d", pageNo)
	}
	if len(data) != m.pageSize {
		return errors.NotValidf("page of %d bytes", len(data))
	}

	m.writes++
	page := make([]byte, m.pageSize)
	copy(page, data)
	m.pages[pageNo] = page
	if pageNo >= m.nextPage {
		m.nextPage = pageNo + 1
	}
	return nil
}

func (m *MemManager) Allocate() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pageNo := m.nextPage
	m.nextPage++
	return pageNo, nil
}

func (m *MemManager) Sync() error { return nil }

func (m *MemManager) Close() error { return nil }

// PageData returns a copy of the stored page, or nil if never written.
func (m *MemManager) PageData(pageNo uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, ok := m.pages[pageNo]
	if !ok {
		return nil
	}
	out := make([]byte, len(page))
	copy(out, page)
	return out
}

// Writes returns the number of page writes seen so far.
func (m *MemManager) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Reads returns the number of page reads seen so far.
func (m *MemManager) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
