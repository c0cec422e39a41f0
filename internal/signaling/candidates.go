package signaling

import "hr-realtime/internal/domain/call"

// CandidateQueue holds ICE candidates that arrive before the remote peer can
// apply them. Until SetRemoteDescription is called every candidate is
// buffered; after it, candidates pass straight through. The order in which
// candidates are released always equals their arrival order.
type CandidateQueue struct {
	pending []call.Candidate
	applied []call.Candidate
	ready   bool
}

// Add records a candidate. It returns the candidates that may be forwarded
// now: nil while buffering, otherwise just c.
func (q *CandidateQueue) Add(c call.Candidate) []call.Candidate {
	if !q.ready {
		q.pending = append(q.pending, c)
		return nil
	}
	q.applied = append(q.applied, c)
	return []call.Candidate{c}
}

// SetRemoteDescription marks the remote side ready and releases the buffered
// candidates in arrival order. Calling it again releases nothing.
func (q *CandidateQueue) SetRemoteDescription() []call.Candidate {
	if q.ready {
		return nil
	}
	q.ready = true
	released := q.pending
	q.pending = nil
	q.applied = append(q.applied, released...)
	return released
}

// Ready reports whether candidates are forwarded immediately.
func (q *CandidateQueue) Ready() bool {
	return q.ready
}

// Pending returns a copy of the buffered candidates.
func (q *CandidateQueue) Pending() []call.Candidate {
	if len(q.pending) == 0 {
		return nil
	}
	return append([]call.Candidate(nil), q.pending...)
}

// Applied returns every candidate released so far, in release order.
func (q *CandidateQueue) Applied() []call.Candidate {
	return append([]call.Candidate(nil), q.applied...)
}

// Reset drops all buffered candidates. Used when a call ends.
func (q *CandidateQueue) Reset() {
	q.pending = nil
}
