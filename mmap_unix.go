//go:build unix

package framestack

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps path read-only. The file handle is closed once the mapping
// exists; the mapping itself keeps the pages reachable.
func mapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, resourceErrorf("open %s: %v", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, resourceErrorf("stat %s: %v", path, err)
	}
	if fi.Size() == 0 {
		return []byte{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, resourceErrorf("mmap %s: %v", path, err)
	}
	return data, nil
}

func unmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
