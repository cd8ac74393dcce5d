package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Metadata is the capability an entity type supplies so its fields can be
// classified without a database connection.
type Metadata interface {
	ComputedAccessors() []string
	AppendedFields() []string
	CastFields() []string
	AttributeFields() []string
}

// IsComputedAttribute reports whether field is derived by entity-side logic
// rather than read from a stored column. First match wins:
//  1. an accessor is registered for the field
//  2. the field is always appended as a computed value
//  3. the field is cast to a non-raw representation
//  4. the field is a typed computed-attribute wrapper
func IsComputedAttribute(m Metadata, field string) bool {
	if m == nil || field == "" {
		return false
	}
	want := normalize(field)

	for _, name := range m.ComputedAccessors() {
		if normalize(name) == want {
			return true
		}
	}
	for _, name := range m.AppendedFields() {
		if name == field {
			return true
		}
	}
	for _, name := range m.CastFields() {
		if name == field {
			return true
		}
	}
	for _, name := range m.AttributeFields() {
		if normalize(name) == want {
			return true
		}
	}
	return false
}

// ColumnInspector reads the physical columns of a table from the live schema.
type ColumnInspector interface {
	Name() string
	Columns(ctx context.Context, table string) ([]string, error)
}

// Classifier adds an optional schema cross-check on top of IsComputedAttribute.
// Schema lookups are cached per inspector and table, so a Classifier may be
// shared by any number of tables.
type Classifier struct {
	inspector ColumnInspector
	logger    *slog.Logger

	mu     sync.Mutex
	schema map[string]map[string]struct{}
}

// NewClassifier returns a classifier. inspector may be nil, in which case
// only declared entity columns are consulted.
func NewClassifier(inspector ColumnInspector, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		inspector: inspector,
		logger:    logger,
		schema:    make(map[string]map[string]struct{}),
	}
}

func (c *Classifier) IsComputedAttribute(e *Entity, field string) bool {
	if e == nil {
		return false
	}
	return IsComputedAttribute(e, field)
}

// HasDatabaseColumn reports whether field exists in the entity's table.
// Declared columns answer first; the live schema is only consulted when the
// entity declares none.
func (c *Classifier) HasDatabaseColumn(ctx context.Context, e *Entity, field string) (bool, error) {
	if len(e.Columns()) > 0 || c.inspector == nil {
		return e.HasColumn(field), nil
	}

	cols, err := c.tableColumns(ctx, e.Table)
	if err != nil {
		return false, err
	}
	_, ok := cols[field]
	return ok, nil
}

func (c *Classifier) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	key := c.inspector.Name() + "/" + table

	c.mu.Lock()
	cols, ok := c.schema[key]
	c.mu.Unlock()
	if ok {
		return cols, nil
	}

	list, err := c.inspector.Columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect columns of %s: %w", table, err)
	}
	cols = make(map[string]struct{}, len(list))
	for _, col := range list {
		cols[col] = struct{}{}
	}

	c.mu.Lock()
	c.schema[key] = cols
	c.mu.Unlock()

	c.logger.Debug("Cached table schema", "table", table, "columns", len(cols), "connection", c.inspector.Name())
	return cols, nil
}
