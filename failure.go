package ringkv

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// FailureController toggles peer liveness. A transition touches only the
// liveness flag: stored items stay in place and nothing is migrated.
type FailureController struct {
	ring *Ring
	log  *log.Entry
}

func NewFailureController(ring *Ring, logger *log.Entry) *FailureController {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &FailureController{ring: ring, log: logger.WithField("component", "failures")}
}

// MarkDown moves a peer from Alive to Down. changed is false if it was
// already down.
func (fc *FailureController) MarkDown(label string) (changed bool, err error) {
	p, err := fc.peer(label)
	if err != nil {
		return false, err
	}
	changed = p.markDown()
	if changed {
		fc.log.WithField("peer", label).Info("peer marked down")
	}
	return changed, nil
}

// MarkUp moves a peer from Down to Alive. changed is false if it was
// already alive.
func (fc *FailureController) MarkUp(label string) (changed bool, err error) {
	p, err := fc.peer(label)
	if err != nil {
		return false, err
	}
	changed = p.markUp()
	if changed {
		fc.log.WithField("peer", label).Info("peer marked up")
	}
	return changed, nil
}

// SetAlive dispatches to MarkUp or MarkDown.
func (fc *FailureController) SetAlive(label string, alive bool) (bool, error) {
	if alive {
		return fc.MarkUp(label)
	}
	return fc.MarkDown(label)
}

func (fc *FailureController) peer(label string) (*Peer, error) {
	p, ok := fc.ring.Lookup(label)
	if !ok {
		return nil, fmt.Errorf("peer %q: %w", label, ErrUnknownPeer)
	}
	return p, nil
}
