package orm

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// tagName is the struct tag key read during discovery.
const tagName = "shelf"

// Tag options.
const (
	optPrimary  = "primary"
	optNullable = "nullable"
)

var validPropertyName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// entityNamer lets an entity override its name. The default is the Go type
// name.
type entityNamer interface {
	EntityName() string
}

// EntityMeta describes a discovered entity.
type EntityMeta struct {
	Name       string          // Entity name, e.g. Pot.
	Collection string          // Store collection, e.g. pot.
	Type       reflect.Type    // Struct type.
	Primary    *PropertyMeta   // Maps to the _id document field.
	Properties []*PropertyMeta // Scalar properties, primary key excluded.
	Relations  []*RelationMeta

	properties map[string]*PropertyMeta
	relations  map[string]*RelationMeta
}

// PropertyMeta describes a mapped struct field.
type PropertyMeta struct {
	Name     string // Document field name.
	Field    string // Go field name.
	Index    []int
	Nullable bool
}

// RelationMeta describes an owning many-to-many relation declared with a
// Collection field.
type RelationMeta struct {
	Name     string // Document field holding the member IDs.
	Field    string
	Index    []int
	Nullable bool
	Owner    *EntityMeta
	Target   *EntityMeta

	targetType reflect.Type
}

// String returns Owner.name, e.g. Pot.flowers.
func (r *RelationMeta) String() string {
	return r.Owner.Name + "." + r.Name
}

// Property returns the scalar property with the given document name. The
// primary key is reported under both its property name and _id.
func (m *EntityMeta) Property(name string) (*PropertyMeta, bool) {
	if name == types.IDField || name == m.Primary.Name {
		return m.Primary, true
	}
	p, ok := m.properties[name]
	return p, ok
}

// Relation returns the relation with the given document name.
func (m *EntityMeta) Relation(name string) (*RelationMeta, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// Metadata holds every entity known to an ORM.
type Metadata struct {
	entities []*EntityMeta
	byType   map[reflect.Type]*EntityMeta
	byName   map[string]*EntityMeta
}

// All returns the entities sorted by name.
func (md *Metadata) All() []*EntityMeta {
	out := make([]*EntityMeta, len(md.entities))
	copy(out, md.entities)
	return out
}

// Find returns the entity with the given name.
func (md *Metadata) Find(name string) (*EntityMeta, bool) {
	m, ok := md.byName[name]
	return m, ok
}

// Get returns the metadata of an entity value, pointer or reflect.Type.
func (md *Metadata) Get(entity any) (*EntityMeta, error) {
	var t reflect.Type
	switch v := entity.(type) {
	case reflect.Type:
		t = v
	case nil:
		return nil, ErrNotEntity
	default:
		t = reflect.TypeOf(v)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	m, ok := md.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, t)
	}
	return m, nil
}

// discover builds metadata for the given entity samples. Relations must
// target entities in the same set.
func discover(entities []any) (*Metadata, error) {
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}
	md := &Metadata{
		byType: make(map[reflect.Type]*EntityMeta),
		byName: make(map[string]*EntityMeta),
	}
	for _, e := range entities {
		if e == nil {
			return nil, ErrNotStruct
		}
		t := reflect.TypeOf(e)
		if rt, ok := e.(reflect.Type); ok {
			t = rt
		}
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: %s", ErrNotStruct, t)
		}
		if _, seen := md.byType[t]; seen {
			continue
		}
		m, err := describe(t)
		if err != nil {
			return nil, err
		}
		if other, dup := md.byName[m.Name]; dup {
			return nil, fmt.Errorf("%w: %s declared by %s and %s", ErrDuplicateEntity, m.Name, other.Type, t)
		}
		md.byType[t] = m
		md.byName[m.Name] = m
		md.entities = append(md.entities, m)
	}

	for _, m := range md.entities {
		for _, r := range m.Relations {
			target, ok := md.byType[r.targetType]
			if !ok {
				return nil, fmt.Errorf("%w: %s targets unregistered %s", ErrUnknownEntity, r, r.targetType)
			}
			r.Target = target
		}
	}
	sort.Slice(md.entities, func(i, j int) bool { return md.entities[i].Name < md.entities[j].Name })
	return md, nil
}

// describe reads the shelf tags of one struct type.
func describe(t reflect.Type) (*EntityMeta, error) {
	m := &EntityMeta{
		Name:       t.Name(),
		Type:       t,
		properties: make(map[string]*PropertyMeta),
		relations:  make(map[string]*RelationMeta),
	}
	if namer, ok := reflect.New(t).Interface().(entityNamer); ok {
		if name := namer.EntityName(); name != "" {
			m.Name = name
		}
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: anonymous struct %s needs EntityName", ErrNotStruct, t)
	}
	m.Collection = snakeCase(m.Name)
	if !types.ValidCollectionName(m.Collection) {
		return nil, fmt.Errorf("%w: %s maps to collection %q", types.ErrCollectionName, m.Name, m.Collection)
	}

	var implicitPrimary *PropertyMeta
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() || throughPointer(t, f.Index) {
			continue
		}
		tag, hasTag := f.Tag.Lookup(tagName)
		name, opts := parseTag(tag)
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerCamel(f.Name)
		}
		if !validPropertyName.MatchString(name) {
			return nil, fmt.Errorf("%w: %s.%s name %q", ErrInvalidTag, m.Name, f.Name, name)
		}

		if f.Type.Kind() == reflect.Pointer && isRelation(f.Type.Elem()) {
			return nil, fmt.Errorf("%w: %s.%s: relation fields hold a Collection, not a pointer to one", ErrInvalidTag, m.Name, f.Name)
		}
		if isRelation(f.Type) {
			if opts[optPrimary] {
				return nil, fmt.Errorf("%w: %s.%s: a relation cannot be the primary key", ErrInvalidTag, m.Name, f.Name)
			}
			r := &RelationMeta{
				Name:       name,
				Field:      f.Name,
				Index:      f.Index,
				Nullable:   opts[optNullable],
				Owner:      m,
				targetType: relationTarget(f.Type),
			}
			if err := m.addName(name, f.Name); err != nil {
				return nil, err
			}
			m.Relations = append(m.Relations, r)
			m.relations[name] = r
			continue
		}

		p := &PropertyMeta{
			Name:     name,
			Field:    f.Name,
			Index:    f.Index,
			Nullable: opts[optNullable],
		}
		if opts[optPrimary] || name == types.IDField {
			if m.Primary != nil {
				return nil, fmt.Errorf("%w: %s has primary keys %s and %s", ErrPrimaryKey, m.Name, m.Primary.Field, f.Name)
			}
			if f.Type.Kind() != reflect.String {
				return nil, fmt.Errorf("%w: %s.%s is %s", ErrPrimaryKey, m.Name, f.Name, f.Type)
			}
			m.Primary = p
			continue
		}
		if !hasTag && f.Name == "ID" && f.Type.Kind() == reflect.String {
			implicitPrimary = p
			continue
		}
		if err := m.addName(name, f.Name); err != nil {
			return nil, err
		}
		m.Properties = append(m.Properties, p)
		m.properties[name] = p
	}

	if m.Primary == nil {
		if implicitPrimary == nil {
			return nil, fmt.Errorf("%w: %s has none", ErrPrimaryKey, m.Name)
		}
		m.Primary = implicitPrimary
	} else if implicitPrimary != nil {
		if err := m.addName(implicitPrimary.Name, implicitPrimary.Field); err != nil {
			return nil, err
		}
		m.Properties = append(m.Properties, implicitPrimary)
		m.properties[implicitPrimary.Name] = implicitPrimary
	}
	if m.Primary.Name != types.IDField {
		if _, clash := m.properties[m.Primary.Name]; clash {
			return nil, fmt.Errorf("%w: %s.%s reuses the primary key name", ErrInvalidTag, m.Name, m.Primary.Name)
		}
	}
	return m, nil
}

// addName rejects two fields mapping to the same document field.
func (m *EntityMeta) addName(name, field string) error {
	if name == types.IDField {
		return fmt.Errorf("%w: %s.%s: %s is reserved for the primary key", ErrInvalidTag, m.Name, field, types.IDField)
	}
	if _, ok := m.properties[name]; ok {
		return fmt.Errorf("%w: %s.%s: duplicate name %q", ErrInvalidTag, m.Name, field, name)
	}
	if _, ok := m.relations[name]; ok {
		return fmt.Errorf("%w: %s.%s: duplicate name %q", ErrInvalidTag, m.Name, field, name)
	}
	return nil
}

// parseTag splits `name,opt,opt` into the name and an option set.
func parseTag(tag string) (string, map[string]bool) {
	parts := strings.Split(tag, ",")
	opts := make(map[string]bool, len(parts)-1)
	for _, o := range parts[1:] {
		if o = strings.TrimSpace(o); o != "" {
			opts[o] = true
		}
	}
	return strings.TrimSpace(parts[0]), opts
}

// throughPointer reports whether a promoted field is reached through an
// embedded pointer, which hydration cannot allocate.
func throughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Pointer {
			return true
		}
		t = f.Type
	}
	return false
}

var relationIface = reflect.TypeOf((*relation)(nil)).Elem()

// isRelation reports whether a field type is a Collection.
func isRelation(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(relationIface)
}

// relationTarget returns the member struct type of a Collection type.
func relationTarget(t reflect.Type) reflect.Type {
	return reflect.New(t).Interface().(relation).targetType()
}

var primaryIndexes sync.Map // reflect.Type -> []int

// primaryIndex returns the field index of the primary key of t, for
// collections that are not yet bound to metadata.
func primaryIndex(t reflect.Type) []int {
	if v, ok := primaryIndexes.Load(t); ok {
		return v.([]int)
	}
	m, err := describe(t)
	if err != nil {
		return nil
	}
	primaryIndexes.Store(t, m.Primary.Index)
	return m.Primary.Index
}
