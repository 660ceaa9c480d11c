package orm

import "errors"

// Discovery errors.
var (
	ErrNoEntities      = errors.New("no entities registered")
	ErrNotStruct       = errors.New("entity must be a struct type")
	ErrPrimaryKey      = errors.New("entity needs exactly one string primary key")
	ErrDuplicateEntity = errors.New("duplicate entity name")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrInvalidTag      = errors.New("invalid shelf tag")
)

// Lifecycle errors.
var (
	ErrClosed         = errors.New("orm is closed")
	ErrGlobalContext  = errors.New("using the global entity manager is disabled; use Fork or set AllowGlobalContext")
	ErrDebugNamespace = errors.New("unknown debug namespace")
)

// Unit of work errors.
var (
	ErrNotEntity        = errors.New("value is not a pointer to an entity")
	ErrNotManaged       = errors.New("entity is not managed by this entity manager")
	ErrIdentityConflict = errors.New("another entity with the same primary key is managed")
	ErrImmutablePrimary = errors.New("primary key of a managed entity cannot change")
	ErrEntityNotFound   = errors.New("entity not found")
)

// Mapping errors.
var (
	ErrNotInitialized    = errors.New("collection is not initialized")
	ErrUnboundCollection = errors.New("collection is not bound to an entity manager")
	ErrHydration         = errors.New("cannot hydrate entity")
	ErrUnknownProperty   = errors.New("unknown property")
	ErrInvalidAssign     = errors.New("invalid assignment")
)
