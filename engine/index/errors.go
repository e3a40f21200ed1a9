package index

import "errors"

// ErrNodeNotFound is returned when a node-created notification names a node
// id the graph store has no open version of (e.g. a stale retry after a
// correction closed it).
var ErrNodeNotFound = errors.New("index: node not found")
