//go:build !linux

package bufferpool

// adviseHugePages is a no-op outside Linux.
func adviseHugePages(slab []byte) error {
	return nil
}
