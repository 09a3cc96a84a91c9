package sources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"sheetagg/internal/etl"
)

// requireFile maps a missing path to etl.ErrNotFound. SQLite would
// otherwise create an empty database on open.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", etl.ErrNotFound, path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
