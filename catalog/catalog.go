// Package catalog is the storage core's minimal system catalog: a registry
// mapping table names to their on-disk Tables, grounded on
// dinodb/pkg/database.Database (Open/Close/CreateTable/GetTable/GetTables),
// trimmed to the single primary-key B+tree index dbcore supports (the
// hash-index branch is a dropped teacher feature, see DESIGN.md).
package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"dbcore/internal/config"
	"dbcore/internal/corelog"
	"dbcore/internal/diag"
)

var nonAlphanumeric = regexp.MustCompile(`\W`)

// ErrTableExists is returned by CreateTable for a name already registered.
var ErrTableExists = errors.New("catalog: table already exists")

// ErrTableNotFound is returned by GetTable for an unknown name.
var ErrTableNotFound = errors.New("catalog: table not found")

// ErrInvalidName is returned for a table name containing anything but
// letters, digits, and underscore, mirroring database.CreateTable's
// alphanumeric check.
var ErrInvalidName = errors.New("catalog: table name must be alphanumeric")

// Catalog is the set of tables backing one database directory, one file per
// table exactly as dinodb.Database lays its tables out under basepath.
type Catalog struct {
	mu       sync.Mutex
	basepath string
	log      corelog.Logger
	cfg      config.Config
	journal  *diag.Journal

	tables  map[string]*Table
	nextOID uint32
}

// Open (re-)opens a database rooted at folder, creating it if it doesn't
// exist. Existing table files under folder are not eagerly reopened — call
// GetTable to lazily open one, matching dinodb.Database's on-demand GetTable.
// It also opens (or creates) the directory's diagnostic operation journal at
// config.JournalFileName and hands it down to every table's buffer pool, so
// eviction events are recorded for the lifetime of the catalog.
func Open(folder string, cfg config.Config, log corelog.Logger) (*Catalog, error) {
	if log == nil {
		log = corelog.Noop()
	}
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	if err := os.MkdirAll(folder, 0775); err != nil {
		return nil, err
	}
	journal, err := diag.Open(filepath.Join(folder, config.JournalFileName))
	if err != nil {
		return nil, err
	}
	return &Catalog{
		basepath: folder,
		log:      log,
		cfg:      cfg,
		journal:  journal,
		tables:   make(map[string]*Table),
	}, nil
}

// Close closes every open table, returning the first error encountered but
// still attempting to close the rest, then closes the journal.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for _, t := range c.tables {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := c.journal.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// CreateTable creates and opens a brand new table file under the catalog's
// basepath, keyed on an int64 primary key.
func (c *Catalog) CreateTable(name string) (*Table, error) {
	if nonAlphanumeric.MatchString(name) {
		return nil, ErrInvalidName
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[name]; ok {
		return nil, ErrTableExists
	}
	path := filepath.Join(c.basepath, name)
	if _, err := os.Stat(path); err == nil {
		return nil, ErrTableExists
	}

	oid := c.nextOID
	c.nextOID++
	table, err := createTable(path, name, oid, c.cfg, c.log, c.journal)
	if err != nil {
		return nil, err
	}
	c.tables[name] = table
	return table, nil
}

// GetTable returns a table by name, opening it from disk on first access if
// it isn't already resident in the catalog.
func (c *Catalog) GetTable(name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[name]; ok {
		return t, nil
	}
	path := filepath.Join(c.basepath, name)
	if _, err := os.Stat(path); err != nil {
		return nil, ErrTableNotFound
	}
	table, err := openTable(path, name, c.cfg, c.log, c.journal)
	if err != nil {
		return nil, err
	}
	table.OID = c.nextOID
	c.nextOID++
	c.tables[name] = table
	return table, nil
}

// GetTables returns every table currently open in the catalog.
func (c *Catalog) GetTables() map[string]*Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Table, len(c.tables))
	for k, v := range c.tables {
		out[k] = v
	}
	return out
}

// GetBasePath returns the directory this catalog's table files live under.
func (c *Catalog) GetBasePath() string {
	return c.basepath
}
