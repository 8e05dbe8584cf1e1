// Package gallery keeps paged, live-updated in-memory views of a user's
// image records.
package gallery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"facesync/internal/feed"
	"facesync/internal/models"
	"facesync/internal/repository"
	"facesync/internal/session"
)

type Store interface {
	ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]models.ImageRecord, error)
}

type Feed interface {
	Subscribe(ctx context.Context, userID string) (feed.Subscription, error)
}

type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// Registry, when set, tracks the reader's views for the idle sweeper.
	Registry *Registry
}

// Reader opens views for the identity of one session. Every view it opened
// is unbound as soon as that identity changes.
type Reader struct {
	session *session.Session
	store   Store
	feed    Feed
	opts    Options
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	views       map[*View]struct{}
	unsubscribe func()
}

func NewReader(sess *session.Session, store Store, live Feed, opts Options, log zerolog.Logger) *Reader {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}

	r := &Reader{
		session: sess,
		store:   store,
		feed:    live,
		opts:    opts,
		log:     log,
		now:     time.Now,
		views:   make(map[*View]struct{}),
	}
	r.unsubscribe = sess.Subscribe(r.identityChanged)
	return r
}

// Open binds a new view to userID, which must be the session's current
// identity, and subscribes it to live snapshots. The view starts in
// StateLoading; call Page for the first batch.
func (r *Reader) Open(ctx context.Context, userID string) (*View, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrAuth)
	}
	if r.session.Current() != userID {
		return nil, fmt.Errorf("%w: view user is not the signed-in identity", models.ErrAuth)
	}

	sub, err := r.feed.Subscribe(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe live updates: %w", models.ErrRead, err)
	}

	v := newView(r, userID, sub)
	r.mu.Lock()
	r.views[v] = struct{}{}
	r.mu.Unlock()
	if r.opts.Registry != nil {
		r.opts.Registry.add(v)
	}
	go v.listen(0, sub.Updates())

	// the identity may have moved on while subscribing
	if r.session.Current() != userID {
		_ = v.Close()
		return nil, fmt.Errorf("%w: identity changed while opening view", models.ErrAuth)
	}

	r.log.Debug().Str("user_id", userID).Msg("gallery view opened")
	return v, nil
}

// Views reports the number of views currently open.
func (r *Reader) Views() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Close stops following the session and closes every open view.
func (r *Reader) Close() {
	r.unsubscribe()

	r.mu.Lock()
	views := make([]*View, 0, len(r.views))
	for v := range r.views {
		views = append(views, v)
	}
	r.mu.Unlock()

	for _, v := range views {
		if err := v.Close(); err != nil {
			r.log.Warn().Err(err).Str("user_id", v.userID).Msg("close gallery view")
		}
	}
}

func (r *Reader) identityChanged(change session.Change) {
	r.mu.Lock()
	var stale []*View
	for v := range r.views {
		if v.userID != change.Current {
			stale = append(stale, v)
		}
	}
	r.mu.Unlock()

	for _, v := range stale {
		if err := v.Close(); err != nil {
			r.log.Warn().Err(err).Str("user_id", v.userID).Msg("tear down gallery view")
		}
	}
	if len(stale) > 0 {
		r.log.Info().
			Str("previous", change.Previous).
			Str("current", change.Current).
			Int("views", len(stale)).
			Msg("identity changed, gallery views unbound")
	}
}

func (r *Reader) forget(v *View) {
	r.mu.Lock()
	delete(r.views, v)
	r.mu.Unlock()
	if r.opts.Registry != nil {
		r.opts.Registry.remove(v)
	}
}

func (r *Reader) clampLimit(limit int) int {
	if limit <= 0 {
		return r.opts.DefaultPageSize
	}
	if limit > r.opts.MaxPageSize {
		return r.opts.MaxPageSize
	}
	return limit
}
