package models

// OpKind is the kind of mutation the change detector resolved for a path.
type OpKind int

const (
	// OpNone means the path needs no mutation (hashes match or the path is gone on both sides).
	OpNone OpKind = iota
	OpCreate
	OpUpdate
	OpDelete
)

// String returns the operation kind name for logging.
func (k OpKind) String() string {
	switch k {
	case OpNone:
		return "none"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is a single reconciliation decision for one path. It is a
// stateless value produced by the detector and consumed by the syncer,
// never persisted. ExistingID carries the store-assigned document ID when
// the path already has one; ContentHash is set for OpCreate and OpUpdate.
type Operation struct {
	Kind        OpKind
	Path        string
	ExistingID  int64
	ContentHash string
}
