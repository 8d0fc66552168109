package outbox

import "errors"

// ErrDuplicateEvent is the only business-level rejection: the idempotency
// token was already reserved (token cache) or already stored (unique index).
// Everything else the engine returns is an infrastructure error, wrapped with
// enough context to identify the failing port.
var ErrDuplicateEvent = errors.New("outbox: duplicate event")
