// Package atomicfile writes files so readers see either the old or the new
// content, never a truncated one.
package atomicfile

import "os"

// WriteFile atomically replaces path with data
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return writeFile(path, data, perm)
}
