package call

import "voicebridge/internal/state"

// Subscribe returns a channel of session snapshots, sent after every
// change. Slow readers only see the latest snapshot. Call cancel to
// unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan state.Session, func()) {
	ch := make(chan state.Session, 1)
	ch <- o.machine.Session()

	o.subMu.Lock()
	o.subs[ch] = struct{}{}
	o.subMu.Unlock()

	cancel := func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (o *Orchestrator) notify() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	// snapshot under the lock so subscribers never see an older state last
	snap := o.machine.Session()
	for ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
