//go:build unix

package media

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Usage reports the capacity of the card in bytes.
type Usage struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// Usage returns the card's filesystem capacity.
func (c *Card) Usage() (Usage, error) {
	if err := c.ready(); err != nil {
		return Usage{}, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(c.root, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", c.root, err)
	}
	bsize := uint64(st.Bsize)
	return Usage{
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bavail) * bsize,
	}, nil
}
