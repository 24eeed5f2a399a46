package encryption

import (
	"context"
	"sync/atomic"
)

// HackCheckUsage is the outcome of hack-check detection for one connection.
type HackCheckUsage int32

const (
	HackCheckUnknown  HackCheckUsage = iota // no traffic inspected yet
	HackCheckActive                         // client obfuscates its stream
	HackCheckInactive                       // plain stream
)

func (u HackCheckUsage) String() string {
	switch u {
	case HackCheckUnknown:
		return "UNKNOWN"
	case HackCheckActive:
		return "ACTIVE"
	case HackCheckInactive:
		return "INACTIVE"
	default:
		return "INVALID"
	}
}

// Decision is the per-connection hack-check latch shared by the inbound and
// outbound stages. It goes from Unknown to a concrete value exactly once.
//
// The inbound decryptor is the only writer in practice: it sees real traffic
// first. The outbound encryptor only reads and may block in Wait.
type Decision struct {
	state atomic.Int32
	done  chan struct{}
}

// NewDecision creates an undecided latch.
func NewDecision() *Decision {
	return &Decision{done: make(chan struct{})}
}

// NewResolvedDecision creates a latch that is already set.
// Used on the client side, which knows whether it obfuscates.
func NewResolvedDecision(usage HackCheckUsage) *Decision {
	d := NewDecision()
	d.SetIfUnknown(usage)
	return d
}

// TryGet returns the decision without blocking. ok is false while undecided.
func (d *Decision) TryGet() (usage HackCheckUsage, ok bool) {
	usage = HackCheckUsage(d.state.Load())
	return usage, usage != HackCheckUnknown
}

// SetIfUnknown installs usage if nothing was decided yet.
// Returns true only for the call that performed the transition.
// Setting HackCheckUnknown is a no-op.
func (d *Decision) SetIfUnknown(usage HackCheckUsage) bool {
	if usage != HackCheckActive && usage != HackCheckInactive {
		return false
	}
	if !d.state.CompareAndSwap(int32(HackCheckUnknown), int32(usage)) {
		return false
	}
	close(d.done)
	return true
}

// Done returns a channel that is closed once the decision exists.
func (d *Decision) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the decision exists or ctx is done.
func (d *Decision) Wait(ctx context.Context) (HackCheckUsage, error) {
	if usage, ok := d.TryGet(); ok {
		return usage, nil
	}

	select {
	case <-d.done:
		usage, _ := d.TryGet()
		return usage, nil
	case <-ctx.Done():
		return HackCheckUnknown, ctx.Err()
	}
}
