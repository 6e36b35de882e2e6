package router

import "github.com/pkg/errors"

// The error kinds named by spec.md §7. UnknownRecipient is reported to
// the front-end as a MSG notification carrying the error text and goes
// no further; FrameMalformed is logged and dropped inside the receive
// loop; TransportTemporary retries; TransportFatal terminates the
// process; IPCBroken is handled inside the ipc package itself (the Unix
// endpoint drops the failed connection and accepts a new one).
var (
	ErrUnknownRecipient = errors.New("router: unknown recipient")
	ErrTransportFatal   = errors.New("router: transport fatal")
)
