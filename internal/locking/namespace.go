package locking

import (
	"fmt"
	"os"
)

// OpenNamespace opens (creating if needed) the file whose identity names a
// family of lock objects. Tasks that open the same file and resource id share
// the lock.
func OpenNamespace(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o400)
	if err != nil {
		return nil, fmt.Errorf("lock namespace %s: %w", path, err)
	}
	return f, nil
}
