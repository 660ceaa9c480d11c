// Package orm maps Go structs to documents held in a shelf store.
//
// Entities are plain structs. Fields are mapped with `shelf` struct tags:
//
//	type Pot struct {
//	    ID      string                 `shelf:"_id,primary"`
//	    Name    string                 `shelf:"name"`
//	    Flowers orm.Collection[Flower] `shelf:"flowers,nullable"`
//	}
//
// A Collection field declares an owning many-to-many relation. Its member
// IDs are stored as an array on the owning document and the members are
// loaded lazily with Init. Documents written before a relation existed load
// with an empty collection.
//
// Work happens in an EntityManager obtained from ORM.Fork. Persist stages
// new entities, Flush writes every pending insert, change and removal in a
// single atomic batch, and repeated lookups inside one manager return the
// same instance.
package orm
