package entity

import (
	"sort"
	"strings"
)

// Record is a single row as returned by the store, keyed by column name.
// Loaded relations are stored under the relation name as Record, []Record or nil.
type Record map[string]interface{}

// AccessorFunc derives a computed value from a record.
type AccessorFunc func(r Record) interface{}

// CastKind names the transformation applied to a raw column value.
type CastKind string

const (
	CastJSON     CastKind = "json"
	CastBool     CastKind = "bool"
	CastInt      CastKind = "int"
	CastFloat    CastKind = "float"
	CastString   CastKind = "string"
	CastDate     CastKind = "date"
	CastDateTime CastKind = "datetime"
)

// RelationKind describes how a related entity is keyed.
type RelationKind string

const (
	BelongsTo RelationKind = "belongs_to"
	HasOne    RelationKind = "has_one"
	HasMany   RelationKind = "has_many"
)

// Relation links an entity to a related one.
//
// For BelongsTo the parent holds ForeignKey and the related entity holds OwnerKey.
// For HasOne and HasMany the related entity holds ForeignKey and the parent holds LocalKey.
type Relation struct {
	Name       string
	Kind       RelationKind
	Related    *Entity
	ForeignKey string
	OwnerKey   string
	LocalKey   string
}

// JoinCondition renders the key equality between parentRef and relatedRef
// (table names or aliases).
func (rel *Relation) JoinCondition(parentRef, relatedRef string) string {
	if rel.Kind == BelongsTo {
		return relatedRef + "." + rel.OwnerKey + " = " + parentRef + "." + rel.ForeignKey
	}
	return relatedRef + "." + rel.ForeignKey + " = " + parentRef + "." + rel.LocalKey
}

// ParentKey is the column on the parent side of the relation.
func (rel *Relation) ParentKey() string {
	if rel.Kind == BelongsTo {
		return rel.ForeignKey
	}
	return rel.LocalKey
}

// RelatedKey is the column on the related side of the relation.
func (rel *Relation) RelatedKey() string {
	if rel.Kind == BelongsTo {
		return rel.OwnerKey
	}
	return rel.ForeignKey
}

// Entity carries the metadata of a database-backed model: its table, its
// physical columns and everything that is computed rather than stored.
type Entity struct {
	Name       string
	Table      string
	PrimaryKey string

	columns    []string
	accessors  map[string]AccessorFunc
	appends    []string
	casts      map[string]CastKind
	attributes map[string]AccessorFunc
	relations  map[string]*Relation
}

// New creates an entity bound to table with primary key "id".
func New(name, table string) *Entity {
	return &Entity{
		Name:       name,
		Table:      table,
		PrimaryKey: "id",
		accessors:  make(map[string]AccessorFunc),
		casts:      make(map[string]CastKind),
		attributes: make(map[string]AccessorFunc),
		relations:  make(map[string]*Relation),
	}
}

func (e *Entity) WithPrimaryKey(key string) *Entity {
	e.PrimaryKey = key
	return e
}

// WithColumns declares the physical schema columns.
func (e *Entity) WithColumns(cols ...string) *Entity {
	e.columns = append(e.columns, cols...)
	return e
}

// Accessor registers a computed accessor for field.
func (e *Entity) Accessor(field string, fn AccessorFunc) *Entity {
	e.accessors[field] = fn
	return e
}

// Append declares fields that are always included as computed values.
func (e *Entity) Append(fields ...string) *Entity {
	e.appends = append(e.appends, fields...)
	return e
}

func (e *Entity) Cast(field string, kind CastKind) *Entity {
	e.casts[field] = kind
	return e
}

// Attribute registers a typed computed-attribute wrapper for field.
func (e *Entity) Attribute(field string, fn AccessorFunc) *Entity {
	e.attributes[field] = fn
	return e
}

func (e *Entity) BelongsTo(name string, related *Entity, foreignKey, ownerKey string) *Entity {
	e.relations[name] = &Relation{Name: name, Kind: BelongsTo, Related: related, ForeignKey: foreignKey, OwnerKey: ownerKey}
	return e
}

func (e *Entity) HasOne(name string, related *Entity, foreignKey, localKey string) *Entity {
	e.relations[name] = &Relation{Name: name, Kind: HasOne, Related: related, ForeignKey: foreignKey, LocalKey: localKey}
	return e
}

func (e *Entity) HasMany(name string, related *Entity, foreignKey, localKey string) *Entity {
	e.relations[name] = &Relation{Name: name, Kind: HasMany, Related: related, ForeignKey: foreignKey, LocalKey: localKey}
	return e
}

// Relation looks up a relation by name. Snake and camel spellings are
// interchangeable, so "project_manager" finds "projectManager".
func (e *Entity) Relation(name string) (*Relation, bool) {
	if rel, ok := e.relations[name]; ok {
		return rel, true
	}
	want := normalize(name)
	for key, rel := range e.relations {
		if normalize(key) == want {
			return rel, true
		}
	}
	return nil, false
}

// Columns returns the declared schema columns.
func (e *Entity) Columns() []string {
	return e.columns
}

// HasColumn reports whether field is a declared schema column.
func (e *Entity) HasColumn(field string) bool {
	for _, c := range e.columns {
		if c == field {
			return true
		}
	}
	return false
}

// ComputedAccessors lists fields that have a registered accessor.
func (e *Entity) ComputedAccessors() []string {
	return sortedKeys(e.accessors)
}

func (e *Entity) AppendedFields() []string {
	return e.appends
}

func (e *Entity) CastFields() []string {
	out := make([]string, 0, len(e.casts))
	for k := range e.casts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (e *Entity) AttributeFields() []string {
	return sortedKeys(e.attributes)
}

// Path splits a dotted key into its relation chain and final field.
// ok is false when any hop does not name a relation; callers then treat the
// key as a direct column.
func (e *Entity) Path(key string) (chain []*Relation, target *Entity, field string, ok bool) {
	segments := strings.Split(key, ".")
	if len(segments) == 1 {
		return nil, e, key, true
	}

	current := e
	for _, seg := range segments[:len(segments)-1] {
		rel, found := current.Relation(seg)
		if !found || rel.Related == nil {
			return nil, e, key, false
		}
		chain = append(chain, rel)
		current = rel.Related
	}
	return chain, current, segments[len(segments)-1], true
}

func sortedKeys(m map[string]AccessorFunc) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// normalize folds snake_case, kebab-case and camelCase spellings onto one form.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
