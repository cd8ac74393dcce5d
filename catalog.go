package datatable

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gnemet/datatable/database/query"
	"github.com/gnemet/datatable/entity"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed catalog_schema.json
var catalogSchema []byte

// ErrInvalidCatalog is returned when a catalog fails schema validation or
// references something it does not declare.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is a table definition in YAML or JSON form.
type Catalog struct {
	Version  string          `yaml:"version"`
	Title    string          `yaml:"title,omitempty"`
	Icon     string          `yaml:"icon,omitempty"`
	Entity   string          `yaml:"entity"`
	Entities []EntityDef     `yaml:"entities"`
	Columns  []ColumnDef     `yaml:"columns"`
	Filters  []FilterDef     `yaml:"filters,omitempty"`
	Defaults CatalogDefaults `yaml:"defaults,omitempty"`
}

type EntityDef struct {
	Name       string                  `yaml:"name"`
	Table      string                  `yaml:"table"`
	PrimaryKey string                  `yaml:"primary_key,omitempty"`
	Columns    []string                `yaml:"columns,omitempty"`
	Appends    []string                `yaml:"appends,omitempty"`
	Casts      map[string]string       `yaml:"casts,omitempty"`
	Accessors  map[string]*AccessorDef `yaml:"accessors,omitempty"`
	Relations  []RelationDef           `yaml:"relations,omitempty"`
}

// AccessorDef declares a computed field. Concat joins the listed fields with
// Separator; an empty definition must be backed by a registered AccessorFunc.
type AccessorDef struct {
	Concat    []string `yaml:"concat,omitempty"`
	Separator string   `yaml:"separator,omitempty"`
}

type RelationDef struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Entity     string `yaml:"entity"`
	ForeignKey string `yaml:"foreign_key"`
	OwnerKey   string `yaml:"owner_key,omitempty"`
	LocalKey   string `yaml:"local_key,omitempty"`
}

type ColumnDef struct {
	Key        string `yaml:"key"`
	Label      string `yaml:"label,omitempty"`
	Kind       string `yaml:"kind,omitempty"`
	Sortable   bool   `yaml:"sortable,omitempty"`
	Searchable bool   `yaml:"searchable,omitempty"`
	SortKey    string `yaml:"sort_key,omitempty"`
	Hidden     bool   `yaml:"hidden,omitempty"`
	Width      string `yaml:"width,omitempty"`
	Align      string `yaml:"align,omitempty"`
	Limit      int    `yaml:"limit,omitempty"`
	Badge      string `yaml:"badge,omitempty"`
	Icon       string `yaml:"icon,omitempty"`
	Count      string `yaml:"count,omitempty"`
	Circle     bool   `yaml:"circle,omitempty"`
}

type FilterDef struct {
	Name        string      `yaml:"name"`
	Key         string      `yaml:"key,omitempty"`
	Type        string      `yaml:"type"`
	Operator    string      `yaml:"operator,omitempty"`
	Placeholder string      `yaml:"placeholder,omitempty"`
	Default     interface{} `yaml:"default,omitempty"`
	Multiple    bool        `yaml:"multiple,omitempty"`
	Range       bool        `yaml:"range,omitempty"`
	Layout      string      `yaml:"layout,omitempty"`
	Options     []Option    `yaml:"options,omitempty"`
}

type CatalogDefaults struct {
	PerPage           int    `yaml:"per_page,omitempty"`
	PerPageOptions    []int  `yaml:"per_page_options,omitempty"`
	SortColumn        string `yaml:"sort_column,omitempty"`
	SortDirection     string `yaml:"sort_direction,omitempty"`
	SearchPlaceholder string `yaml:"search_placeholder,omitempty"`
	DisableSearch     bool   `yaml:"disable_search,omitempty"`
	DisableSelection  bool   `yaml:"disable_selection,omitempty"`
}

// ValidateCatalog checks a YAML or JSON catalog against the catalog schema.
// Every violation is listed in the returned error.
func ValidateCatalog(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(catalogSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to validate catalog: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.Join(msgs, "; "))
}

// LoadCatalog validates and parses a catalog.
func LoadCatalog(data []byte) (*Catalog, error) {
	if err := ValidateCatalog(data); err != nil {
		return nil, err
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &cat, nil
}

// LoadCatalogFile reads and parses the catalog at path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cat, err := LoadCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Definition builds the table definition. accessors supplies the functions
// for accessors the catalog declares without a concat rule, keyed by
// "entity.field".
func (c *Catalog) Definition(accessors map[string]entity.AccessorFunc) (Definition, error) {
	entities := make(map[string]*entity.Entity, len(c.Entities))
	for _, ed := range c.Entities {
		e := entity.New(ed.Name, ed.Table).WithColumns(ed.Columns...).Append(ed.Appends...)
		if ed.PrimaryKey != "" {
			e.WithPrimaryKey(ed.PrimaryKey)
		}
		for field, kind := range ed.Casts {
			e.Cast(field, entity.CastKind(kind))
		}
		for field, def := range ed.Accessors {
			fn, err := accessorFunc(ed.Name, field, def, accessors)
			if err != nil {
				return Definition{}, err
			}
			e.Accessor(field, fn)
		}
		entities[ed.Name] = e
	}

	for _, ed := range c.Entities {
		e := entities[ed.Name]
		for _, rd := range ed.Relations {
			related, ok := entities[rd.Entity]
			if !ok {
				return Definition{}, fmt.Errorf("%w: relation %s.%s references unknown entity %q", ErrInvalidCatalog, ed.Name, rd.Name, rd.Entity)
			}
			switch entity.RelationKind(rd.Kind) {
			case entity.BelongsTo:
				e.BelongsTo(rd.Name, related, rd.ForeignKey, orDefault(rd.OwnerKey, related.PrimaryKey))
			case entity.HasOne:
				e.HasOne(rd.Name, related, rd.ForeignKey, orDefault(rd.LocalKey, e.PrimaryKey))
			case entity.HasMany:
				e.HasMany(rd.Name, related, rd.ForeignKey, orDefault(rd.LocalKey, e.PrimaryKey))
			default:
				return Definition{}, fmt.Errorf("%w: relation %s.%s has unknown kind %q", ErrInvalidCatalog, ed.Name, rd.Name, rd.Kind)
			}
		}
	}

	primary, ok := entities[c.Entity]
	if !ok {
		return Definition{}, fmt.Errorf("%w: entity %q is not declared", ErrInvalidCatalog, c.Entity)
	}

	def := Definition{
		Entity:               primary,
		DisableSearch:        c.Defaults.DisableSearch,
		DisableSelection:     c.Defaults.DisableSelection,
		SearchPlaceholder:    c.Defaults.SearchPlaceholder,
		DefaultSortKey:       c.Defaults.SortColumn,
		DefaultSortDirection: query.ParseDirection(c.Defaults.SortDirection),
		PerPage:              c.Defaults.PerPage,
		PerPageOptions:       c.Defaults.PerPageOptions,
	}
	for _, cd := range c.Columns {
		def.Columns = append(def.Columns, cd.column())
	}
	for _, fd := range c.Filters {
		def.Filters = append(def.Filters, fd.filter())
	}
	return def, nil
}

func accessorFunc(entityName, field string, def *AccessorDef, registered map[string]entity.AccessorFunc) (entity.AccessorFunc, error) {
	if fn, ok := registered[entityName+"."+field]; ok {
		return fn, nil
	}
	if def == nil || len(def.Concat) == 0 {
		return nil, fmt.Errorf("%w: accessor %s.%s has no implementation", ErrInvalidCatalog, entityName, field)
	}
	fields, sep := def.Concat, def.Separator
	if sep == "" {
		sep = " "
	}
	return func(r entity.Record) interface{} {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			if s := stringify(r[f]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, sep)
	}, nil
}

func (cd ColumnDef) column() *Column {
	var c *Column
	switch ColumnKind(cd.Kind) {
	case IconKind:
		c = NewIconColumn(cd.Key)
	case ImageKind:
		c = NewImageColumn(cd.Key)
	default:
		c = NewColumn(cd.Key)
	}
	c.Field(cd.Key).Sortable(cd.Sortable).Searchable(cd.Searchable).Hidden(cd.Hidden).
		Width(cd.Width).Align(cd.Align).Limit(cd.Limit)
	if cd.Label != "" {
		c.Label(cd.Label)
	}
	if cd.SortKey != "" {
		c.SortKey(cd.SortKey)
	}
	if cd.Badge != "" {
		c.Badge(cd.Badge)
	}
	if cd.Icon != "" {
		c.Icon(cd.Icon)
	}
	if cd.Count != "" {
		c.Count(cd.Count)
	}
	return c.Circle(cd.Circle)
}

func (fd FilterDef) filter() Filter {
	switch FilterKind(fd.Type) {
	case SelectFilterKind:
		f := NewSelectFilter(fd.Name).Options(fd.Options...).Multiple(fd.Multiple).WithPlaceholder(fd.Placeholder)
		if fd.Key != "" {
			f.Field(fd.Key)
		}
		return f.WithDefault(fd.Default)
	case DateFilterKind:
		f := NewDateFilter(fd.Name).Range(fd.Range).WithPlaceholder(fd.Placeholder)
		if fd.Layout != "" {
			f.Layout(fd.Layout)
		}
		if fd.Key != "" {
			f.Field(fd.Key)
		}
		return f.WithDefault(fd.Default)
	default:
		f := NewTextFilter(fd.Name).WithPlaceholder(fd.Placeholder)
		switch Operator(fd.Operator) {
		case OpExact:
			f.Exact()
		case OpStartsWith:
			f.StartsWith()
		case OpEndsWith:
			f.EndsWith()
		}
		if fd.Key != "" {
			f.Field(fd.Key)
		}
		return f.WithDefault(fd.Default)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
