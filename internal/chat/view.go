package chat

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/metrics"
)

// Status is the coarse state a UI renders for a conversation view.
type Status int

const (
	// StatusLoading is shown until the first history page is applied.
	StatusLoading Status = iota
	// StatusSyncing means history is shown but a resync is filling a gap.
	StatusSyncing
	// StatusReady means the view is gap-free and live.
	StatusReady
	// StatusDegraded means the view cannot load or send any more.
	StatusDegraded
	// StatusClosed is terminal.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSyncing:
		return "syncing"
	case StatusReady:
		return "ready"
	case StatusDegraded:
		return "degraded"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultConfirmTimeout is how long a persisted send may wait for its
// canonical copy on the live feed before the view fetches it.
const DefaultConfirmTimeout = 3 * time.Second

type options struct {
	pageSize       int
	skew           time.Duration
	confirmTimeout time.Duration
	backoff  Backoff
	log      zerolog.Logger
	echo     bool
}

// Option configures a View.
type Option func(*options)

// WithPageSize sets the history page size.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithSkew sets the reconciler safety skew.
func WithSkew(d time.Duration) Option {
	return func(o *options) { o.skew = d }
}

// WithConfirmTimeout sets how long a persisted send waits for its push before
// the view resyncs from the persisted position.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.confirmTimeout = d
		}
	}
}

// WithRetryBackoff sets the policy for reconnects and history refetches.
func WithRetryBackoff(b Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.log = logger }
}

// WithoutEcho disables optimistic local echoes of outgoing messages.
func WithoutEcho() Option {
	return func(o *options) { o.echo = false }
}

// View is one open conversation: initial history, live feed and sends merged
// into a single ordered store. All store mutations run on one goroutine.
type View struct {
	conversationID string
	userID         string
	backend        Backend
	opts           options
	log            zerolog.Logger

	store  *Store
	rec    *Reconciler
	sender *Sender
	sub    *Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	ops       chan func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	changes chan struct{}
	errs    chan error

	statusMu sync.Mutex
	status   Status
	fatal    error

	// owned by the loop goroutine
	outgoing      map[string]*Outgoing
	initialLoaded bool
	live          bool
	resyncing     bool
}

// Open starts a view for conversationID on behalf of currentUserID. It returns
// immediately; history and live events arrive asynchronously.
func Open(backend Backend, conversationID, currentUserID string, opts ...Option) *View {
	o := options{
		pageSize:       DefaultPageSize,
		skew:           DefaultSkew,
		confirmTimeout: DefaultConfirmTimeout,
		backoff:  DefaultBackoff(),
		log:      zerolog.Nop(),
		echo:     true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.log.With().Str("conversation_id", conversationID).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	store := NewStore(conversationID)
	v := &View{
		conversationID: conversationID,
		userID:         currentUserID,
		backend:        backend,
		opts:           o,
		log:            logger,
		store:          store,
		rec:            NewReconciler(store, o.skew),
		sender:         NewSender(backend, backend, logger),
		ctx:            ctx,
		cancel:         cancel,
		ops:            make(chan func(), 64),
		done:           make(chan struct{}),
		changes:        make(chan struct{}, 1),
		errs:           make(chan error, 16),
		outgoing:       make(map[string]*Outgoing),
	}

	go v.loop()

	v.wg.Add(1)
	go v.loadInitial()

	v.sub = Subscribe(backend, conversationID, Handlers{
		OnMessage: func(m Message) { v.do(func() { v.applyLive(m) }) },
		OnError:   v.onSubscriptionError,
		OnLive:    func(reconnected bool) { v.do(func() { v.onLive(reconnected) }) },
	}, WithBackoff(o.backoff), WithSubscriptionLogger(logger))

	return v
}

// ConversationID returns the conversation shown by the view.
func (v *View) ConversationID() string { return v.conversationID }

// UserID returns the user the view was opened for.
func (v *View) UserID() string { return v.userID }

// Messages returns the current ordered view, oldest first, echoes last.
func (v *View) Messages() iter.Seq[Message] { return v.store.View() }

// Store exposes the underlying store for read access.
func (v *View) Store() *Store { return v.store }

// Changes signals (coalesced) that the rendered view may have changed.
func (v *View) Changes() <-chan struct{} { return v.changes }

// Errors delivers non-fatal notifications for the user. It is closed by Close.
func (v *View) Errors() <-chan error { return v.errs }

// Status returns the current status.
func (v *View) Status() Status {
	v.statusMu.Lock()
	defer v.statusMu.Unlock()
	return v.status
}

// Err returns the error that degraded the view, if any.
func (v *View) Err() error {
	v.statusMu.Lock()
	defer v.statusMu.Unlock()
	return v.fatal
}

// SubscriptionState returns the state of the live channel.
func (v *View) SubscriptionState() SubscriptionState { return v.sub.State() }

// Send composes and delivers a message. The returned Outgoing reaches
// Confirmed once the persisted copy comes back through the live feed or a
// resync; it is never inserted into the store from the write response.
func (v *View) Send(ctx context.Context, text string, att *Attachment) (*Outgoing, error) {
	if v.Status() == StatusDegraded {
		return nil, v.Err()
	}
	out, err := v.sender.Compose(v.conversationID, v.userID, text, att)
	if err != nil {
		return nil, err
	}
	return out, v.deliver(ctx, out, att)
}

// Retry re-delivers a failed send with the same client token.
func (v *View) Retry(ctx context.Context, failed *Outgoing, att *Attachment) (*Outgoing, error) {
	out, err := v.sender.Retry(failed, att)
	if err != nil {
		return nil, err
	}
	return out, v.deliver(ctx, out, att)
}

func (v *View) deliver(ctx context.Context, out *Outgoing, att *Attachment) error {
	if !v.call(func() { v.track(out) }) {
		return ErrClosed
	}
	if out.State() == SendConfirmed {
		return nil
	}

	persisted, err := v.sender.Deliver(ctx, out, att)
	if err != nil {
		if out.State() == SendConfirmed {
			return nil
		}
		metrics.ChatSendFailures.Inc()
		v.do(func() { v.untrack(out) })
		return err
	}
	if out.State() != SendConfirmed {
		time.AfterFunc(v.opts.confirmTimeout, func() {
			v.do(func() { v.awaitConfirm(out, persisted) })
		})
	}
	return nil
}

// LoadOlder fetches one page before the oldest known message. It returns the
// number of messages the backend returned; fewer than the page size means the
// beginning of the conversation was reached. Failures are not retried.
func (v *View) LoadOlder(ctx context.Context) (int, error) {
	oldest := v.store.Oldest()
	page := Page{Limit: v.opts.pageSize}
	if !oldest.IsZero() {
		page.Before = &oldest
	}
	msgs, err := v.backend.LoadHistory(ctx, v.conversationID, page)
	if err != nil {
		return 0, err
	}
	if !v.call(func() { v.afterInsert(v.rec.ApplySnapshot(msgs)) }) {
		return 0, ErrClosed
	}
	return len(msgs), nil
}

// Close closes the live subscription, stops background work and discards the
// store. It is safe to call more than once.
func (v *View) Close() error {
	var err error
	v.closeOnce.Do(func() {
		err = v.sub.Close()
		v.cancel()
		<-v.done
		v.wg.Wait()

		v.store.Clear()
		v.setStatus(StatusClosed, nil)
		close(v.changes)
		close(v.errs)
		v.log.Debug().Msg("conversation view closed")
	})
	return err
}

func (v *View) loop() {
	defer close(v.done)
	for {
		select {
		case fn := <-v.ops:
			fn()
		case <-v.ctx.Done():
			return
		}
	}
}

// do runs fn on the loop goroutine. It returns false once the view is closing.
func (v *View) do(fn func()) bool {
	select {
	case v.ops <- fn:
		return true
	case <-v.done:
		return false
	}
}

// call runs fn on the loop goroutine and waits for it to finish.
func (v *View) call(fn func()) bool {
	finished := make(chan struct{})
	if !v.do(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-v.done:
		return false
	}
}

func (v *View) loadInitial() {
	defer v.wg.Done()

	msgs, err := v.fetch(Page{Limit: v.opts.pageSize})
	if err != nil {
		return
	}
	v.do(func() { v.applyInitial(msgs) })
}

// fetch loads one page, retrying transient failures with backoff. It only
// returns an error for a fatal failure or when the view is closing.
func (v *View) fetch(page Page) ([]Message, error) {
	for attempt := 0; ; attempt++ {
		msgs, err := v.backend.LoadHistory(v.ctx, v.conversationID, page)
		if err == nil {
			return msgs, nil
		}
		if v.ctx.Err() != nil {
			return nil, v.ctx.Err()
		}
		v.report(err)
		if errors.Is(err, ErrNotFound) {
			v.do(func() { v.degrade(err) })
			return nil, err
		}
		if v.opts.backoff.Wait(v.ctx, attempt) != nil {
			return nil, v.ctx.Err()
		}
	}
}

func (v *View) resync(anchor Key) {
	defer v.wg.Done()

	for {
		after := anchor
		msgs, err := v.fetch(Page{Limit: v.opts.pageSize, After: &after})
		if err != nil {
			return
		}
		last := len(msgs) < v.opts.pageSize
		v.do(func() {
			v.afterInsert(v.rec.ApplySnapshot(msgs))
			if last {
				v.finishResync()
			}
		})
		if last {
			return
		}
		anchor = msgs[len(msgs)-1].Key()
	}
}

func (v *View) onSubscriptionError(err error) {
	v.report(err)
	if errors.Is(err, ErrNotFound) {
		v.do(func() { v.degrade(err) })
		return
	}
	metrics.ChatReconnects.Inc()
	v.do(func() {
		v.live = false
		if v.initialLoaded {
			v.rec.MarkDisconnected()
			v.setStatus(StatusSyncing, nil)
		}
	})
}

// The following methods run on the loop goroutine.

func (v *View) applyInitial(msgs []Message) {
	v.afterInsert(v.rec.ApplyInitial(msgs))
	v.initialLoaded = true
	// Messages created between the history query and the live channel opening
	// are in neither source until the first resync.
	v.rec.MarkDisconnected()
	v.setStatus(StatusSyncing, nil)
	if v.live {
		v.startResync()
	}
	v.log.Debug().Int("messages", len(msgs)).Msg("initial history applied")
}

func (v *View) onLive(reconnected bool) {
	v.live = true
	v.log.Debug().Bool("reconnected", reconnected).Msg("live channel open")
	if !v.initialLoaded {
		return
	}
	v.rec.MarkDisconnected()
	v.startResync()
}

func (v *View) applyLive(m Message) {
	inserted, gap := v.rec.ApplyLive(m)
	if len(inserted) == 0 {
		metrics.ChatDuplicatesDropped.Inc()
		return
	}
	v.afterInsert(inserted)
	if gap {
		v.log.Info().Str("message_id", m.ID).Time("created_at", m.CreatedAt).Msg("late live event, resyncing")
		v.setStatus(StatusSyncing, nil)
		v.startResync()
	}
}

func (v *View) startResync() {
	if v.resyncing || v.Status() == StatusDegraded {
		return
	}
	anchor, ok := v.rec.TakeGap()
	if !ok {
		return
	}
	v.resyncing = true
	metrics.ChatResyncs.Inc()
	v.log.Debug().Time("anchor", anchor.CreatedAt).Msg("resync started")

	v.wg.Add(1)
	go v.resync(anchor)
}

func (v *View) finishResync() {
	v.resyncing = false
	if v.rec.CompleteResync() {
		if v.live {
			v.setStatus(StatusReady, nil)
		}
		v.notify()
		return
	}
	if v.live {
		v.startResync()
	}
}

func (v *View) afterInsert(inserted []Message) {
	if len(inserted) == 0 {
		return
	}
	for _, m := range inserted {
		if m.ClientToken == "" {
			continue
		}
		if out, ok := v.outgoing[m.ClientToken]; ok {
			out.Confirm(m)
			delete(v.outgoing, m.ClientToken)
		}
	}
	v.notify()
}

// awaitConfirm runs when a persisted send is still unconfirmed after the
// confirm timeout. Its push was lost, and later pushes are newer than the
// high-water mark, so only a resync from the persisted position recovers it.
func (v *View) awaitConfirm(out *Outgoing, persisted Message) {
	if out.State().Terminal() {
		return
	}
	if _, ok := v.store.Get(persisted.ID); ok {
		return
	}
	v.log.Info().Str("client_token", out.Token).Str("message_id", persisted.ID).Msg("send not confirmed by live feed, resyncing")
	v.rec.MarkGap(persisted.Key())
	v.setStatus(StatusSyncing, nil)
	v.startResync()
}

func (v *View) track(out *Outgoing) {
	if m, ok := v.store.Confirmed(out.Token); ok {
		out.Confirm(m)
		return
	}
	v.outgoing[out.Token] = out
	if v.opts.echo && v.store.AddPending(out.Echo()) {
		v.notify()
	}
}

func (v *View) untrack(out *Outgoing) {
	if v.outgoing[out.Token] == out {
		delete(v.outgoing, out.Token)
	}
	if v.store.DropPending(out.Token) {
		v.notify()
	}
}

func (v *View) degrade(err error) {
	v.setStatus(StatusDegraded, err)
	v.notify()
}

func (v *View) setStatus(s Status, err error) {
	v.statusMu.Lock()
	defer v.statusMu.Unlock()
	if v.status == StatusClosed || (v.status == StatusDegraded && s != StatusClosed) {
		return
	}
	v.status = s
	if err != nil {
		v.fatal = err
	}
}

func (v *View) notify() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

func (v *View) report(err error) {
	v.log.Warn().Err(err).Msg("conversation error")
	select {
	case v.errs <- err:
	default:
		v.log.Debug().Err(err).Msg("error notification dropped")
	}
}
