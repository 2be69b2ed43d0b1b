package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"
)

const backupTimeLayout = "20060102T150405.000000000"

// writeFileAtomic escribe en un fichero temporal del mismo directorio y lo
// renombra encima del destino.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op tras el rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %q: %w", path, err)
	}
	return nil
}

// backupName devuelve "<path>.bak.<timestamp>".
func backupName(path string, now time.Time) string {
	return path + ".bak." + now.UTC().Format(backupTimeLayout)
}

// copyFile copia src a dst. Devuelve os.ErrNotExist si src no existe.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// pruneBackups deja solo las keep copias más recientes de path. keep <= 0
// conserva todas. Las rutas en preserve no se borran ni cuentan para keep.
func pruneBackups(path string, keep int, preserve ...string) {
	if keep <= 0 {
		return
	}
	matches, err := filepath.Glob(path + ".bak.*")
	if err != nil {
		return
	}
	matches = slices.DeleteFunc(matches, func(m string) bool {
		return slices.Contains(preserve, m)
	})
	if len(matches) <= keep {
		return
	}
	// El timestamp tiene ancho fijo: el orden lexicográfico es cronológico.
	sort.Strings(matches)
	for _, m := range matches[:len(matches)-keep] {
		os.Remove(m)
	}
}
