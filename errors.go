package ringkv

import (
	"context"
	"errors"
)

var (
	// ErrPeerDown is returned when the addressed peer is not alive.
	ErrPeerDown = errors.New("peer is down")
	// ErrNoAlivePeers is returned when no peer in the ring is alive.
	ErrNoAlivePeers = errors.New("no alive peers in ring")
	// ErrNotFound is returned when neither the owner nor any queried
	// successor holds the key.
	ErrNotFound = errors.New("key not found")
	// ErrRoutingLoop is returned when a request exceeds the hop bound.
	ErrRoutingLoop = errors.New("routing exceeded hop bound")

	ErrDuplicatePeer      = errors.New("peer label already registered")
	ErrDuplicateRegion    = errors.New("region already registered")
	ErrUnknownPeer        = errors.New("unknown peer")
	ErrUnknownRegion      = errors.New("unknown region")
	ErrNoRegions          = errors.New("no regions registered")
	ErrCorruptPayload     = errors.New("payload failed authentication")
	ErrReplicationDropped = errors.New("replication queue full, delivery dropped")
	ErrReplicatorClosed   = errors.New("replicator closed")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Status is the outcome code carried in a response envelope.
type Status int32

const (
	StatusOK Status = iota
	StatusNotFound
	StatusPeerDown
	StatusNoAlivePeers
	StatusRoutingLoop
	StatusInvalid
	StatusInternal
)

var statusNames = map[Status]string{
	StatusOK:           "OK",
	StatusNotFound:     "NOT_FOUND",
	StatusPeerDown:     "PEER_DOWN",
	StatusNoAlivePeers: "NO_ALIVE_PEERS",
	StatusRoutingLoop:  "ROUTING_LOOP",
	StatusInvalid:      "INVALID",
	StatusInternal:     "INTERNAL",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// StatusOf maps an error from the core onto a wire status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrPeerDown):
		return StatusPeerDown
	case errors.Is(err, ErrNoAlivePeers):
		return StatusNoAlivePeers
	case errors.Is(err, ErrRoutingLoop), errors.Is(err, context.DeadlineExceeded):
		return StatusRoutingLoop
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownPeer),
		errors.Is(err, ErrUnknownRegion), errors.Is(err, ErrNoRegions),
		errors.Is(err, ErrDuplicatePeer), errors.Is(err, ErrDuplicateRegion):
		return StatusInvalid
	default:
		return StatusInternal
	}
}

// errorFor is the inverse of StatusOf, used on the client side of the wire.
func errorFor(s Status, msg string) error {
	var base error
	switch s {
	case StatusOK:
		return nil
	case StatusNotFound:
		base = ErrNotFound
	case StatusPeerDown:
		base = ErrPeerDown
	case StatusNoAlivePeers:
		base = ErrNoAlivePeers
	case StatusRoutingLoop:
		base = ErrRoutingLoop
	case StatusInvalid:
		base = ErrInvalidRequest
	default:
		if msg == "" {
			msg = "internal error"
		}
		return errors.New(msg)
	}
	if msg == "" || msg == base.Error() {
		return base
	}
	return &remoteError{base: base, msg: msg}
}

type remoteError struct {
	base error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.base }
