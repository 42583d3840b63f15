package session

import (
	"fmt"

	"busbuddy/pkg/types"
)

// Session service errors beyond the shared taxonomy in pkg/types
var (
	ErrShortCodeExhausted = fmt.Errorf("%w: could not allocate a unique short code", types.ErrConflict)
)
