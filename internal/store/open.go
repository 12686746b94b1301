package store

import "fmt"

// Open returns the store for driver: "memory", or a SQLite driver name.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite3", "sqlite":
		return OpenSQL(driver, path)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
