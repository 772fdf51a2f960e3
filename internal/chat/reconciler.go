package chat

import "time"

// DefaultSkew is the tolerance for live events that arrive slightly behind the
// high-water mark because concurrent inserts commit out of timestamp order.
const DefaultSkew = 2 * time.Second

// Reconciler merges history pages and live events into a Store without gaps or
// duplicates. It is not safe for concurrent use; the owner serializes calls.
//
// The high-water mark is the latest key up to which the store is known to be
// gap-free. It only moves while the reconciler is synced: after the first
// resync that follows a live (re)connection, and as in-window live events arrive.
// A late live event marks a gap whether or not the reconciler is synced.
type Reconciler struct {
	store *Store
	skew  time.Duration

	hwm    Key
	synced bool

	gapOpen bool
	gapFrom Key
}

// NewReconciler creates an unsynced reconciler writing into store.
func NewReconciler(store *Store, skew time.Duration) *Reconciler {
	if skew < 0 {
		skew = 0
	}
	return &Reconciler{store: store, skew: skew}
}

// Store returns the underlying message store.
func (r *Reconciler) Store() *Store { return r.store }

// HighWaterMark returns the latest gap-free key.
func (r *Reconciler) HighWaterMark() Key { return r.hwm }

// Synced reports whether live events are currently trusted.
func (r *Reconciler) Synced() bool { return r.synced }

// ApplySnapshot merges a history page. Snapshot results always apply.
func (r *Reconciler) ApplySnapshot(page []Message) []Message {
	return r.store.Append(page...)
}

// ApplyInitial merges the first history page of a view. The newest message of
// that page becomes the high-water mark: everything up to it was returned by a
// single ordered query.
func (r *Reconciler) ApplyInitial(page []Message) []Message {
	inserted := r.store.Append(page...)
	for _, m := range page {
		r.hwm = maxKey(r.hwm, m.Key())
	}
	return inserted
}

// ApplyLive merges one pushed message. It returns the message if it was new and
// whether it exposed a gap: a previously unknown message older than the
// high-water mark minus skew means the feed skipped something, so the range
// from that message on has to be fetched again before the feed is trusted.
// Late events count as gaps while unsynced too, since a running resync may
// have started after their position.
func (r *Reconciler) ApplyLive(m Message) (inserted []Message, gap bool) {
	inserted = r.store.Append(m)
	if len(inserted) == 0 {
		return inserted, false
	}
	if m.CreatedAt.Before(r.hwm.CreatedAt.Add(-r.skew)) {
		r.MarkGap(m.Key())
		return inserted, true
	}
	if r.synced {
		r.hwm = maxKey(r.hwm, m.Key())
	}
	return inserted, false
}

// MarkGap records that messages after from may be missing and stops trusting
// the live feed until a resync completes.
func (r *Reconciler) MarkGap(from Key) {
	if !r.gapOpen || from.Less(r.gapFrom) {
		r.gapFrom = from
	}
	r.gapOpen = true
	r.synced = false
}

// MarkDisconnected is MarkGap anchored at the high-water mark, used after the
// live channel (re)connects: events of the outage window were not buffered.
func (r *Reconciler) MarkDisconnected() {
	r.MarkGap(r.hwm)
}

// TakeGap returns the anchor a resync should fetch after and clears the open
// gap. ok is false when there is nothing to resync.
func (r *Reconciler) TakeGap() (anchor Key, ok bool) {
	if !r.gapOpen {
		return Key{}, false
	}
	anchor = r.gapFrom.Minus(r.skew)
	r.gapOpen = false
	r.gapFrom = Key{}
	return anchor, true
}

// GapOpen reports whether a gap was marked and not yet taken by a resync.
func (r *Reconciler) GapOpen() bool { return r.gapOpen }

// CompleteResync marks the store gap-free up to its newest message. It refuses
// (returns false) when another gap was marked while the resync was running.
func (r *Reconciler) CompleteResync() bool {
	if r.gapOpen {
		return false
	}
	r.hwm = maxKey(r.hwm, r.store.Latest())
	r.synced = true
	return true
}
