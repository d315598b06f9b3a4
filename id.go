package stride

import "github.com/stridehq/stride/id"

// ID is the primary identifier type for all stride entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
