//go:build linux

package bufferpool

import "golang.org/x/sys/unix"

const hugePageSize = 2 * 1024 * 1024

// adviseHugePages asks the kernel to back the slab with transparent huge
// pages. Slabs smaller than one huge page are not worth the advice.
func adviseHugePages(slab []byte) error {
	if len(slab) < hugePageSize {
		return nil
	}
	return unix.Madvise(slab, unix.MADV_HUGEPAGE)
}
