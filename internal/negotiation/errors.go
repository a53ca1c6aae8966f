package negotiation

import (
	"errors"
	"fmt"

	"github.com/1ureka/p2pcall/internal/media"
)

var (
	// ErrDeviceUnavailable is media.ErrDeviceUnavailable, re-exported so
	// callers only need this package.
	ErrDeviceUnavailable = media.ErrDeviceUnavailable

	ErrNegotiationMismatch = errors.New("negotiation mismatch")
	ErrCallInProgress      = fmt.Errorf("%w: call already started", ErrNegotiationMismatch)
	ErrTransportLost       = errors.New("signaling transport lost")
	ErrUnreachablePeer     = errors.New("peer unreachable")
	ErrClosed              = errors.New("negotiation closed")
	ErrCandidateOverflow   = errors.New("too many pending candidates")
)
