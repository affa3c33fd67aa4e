//go:build !unix

package framestack

import "runtime"

func mapFile(path string) ([]byte, error) {
	return nil, resourceErrorf("memory mapping %s is not supported on %s", path, runtime.GOOS)
}

func unmapFile(data []byte) error { return nil }
