package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"facesync/internal/feed"
	"facesync/internal/models"
	"facesync/internal/repository"
)

var ErrViewUnbound = errors.New("gallery view is unbound")

type State int

const (
	StateUnbound State = iota
	// StateLoading holds until the first page has arrived.
	StateLoading
	StateReady
	StateLoadingMore
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingMore:
		return "loading_more"
	default:
		return "unbound"
	}
}

// View is one user's in-memory gallery. Page fetches and live snapshots are
// applied one at a time; results that arrive after the view was unbound are
// dropped.
type View struct {
	reader *Reader
	userID string

	// pageMu orders page fetches; mu guards everything below it.
	pageMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	records []models.ImageRecord
	cursor  *repository.Cursor
	sub     feed.Subscription
	touched time.Time
	changes chan struct{}
}

func newView(r *Reader, userID string, sub feed.Subscription) *View {
	return &View{
		reader:  r,
		userID:  userID,
		state:   StateLoading,
		sub:     sub,
		touched: r.now(),
		changes: make(chan struct{}, 1),
	}
}

func (v *View) UserID() string {
	return v.userID
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Records returns a copy of the merged collection.
func (v *View) Records() []models.ImageRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touched = v.reader.now()
	return append([]models.ImageRecord{}, v.records...)
}

// Changes signals after every update of the collection or the state. A
// signal may stand for several updates.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

func (v *View) LastTouched() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.touched
}

// Page fetches the next limit records after the last page and merges them
// into the collection. It returns the fetched batch in store order. A failed
// fetch keeps the held records and returns an error matching models.ErrRead.
func (v *View) Page(ctx context.Context, limit int) ([]models.ImageRecord, error) {
	limit = v.reader.clampLimit(limit)

	v.pageMu.Lock()
	defer v.pageMu.Unlock()

	v.mu.Lock()
	if v.state == StateUnbound {
		v.mu.Unlock()
		return nil, ErrViewUnbound
	}
	gen := v.gen
	first := v.state == StateLoading
	var after *repository.Cursor
	if v.cursor != nil {
		c := *v.cursor
		after = &c
	}
	if !first {
		v.state = StateLoadingMore
		v.notify()
	}
	v.touched = v.reader.now()
	v.mu.Unlock()

	batch, err := v.reader.store.ListByUser(ctx, v.userID, repository.ListOptions{After: after, Limit: limit})

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gen != gen {
		return nil, ErrViewUnbound
	}
	if err != nil {
		if !first {
			v.state = StateReady
			v.notify()
		}
		v.reader.log.Warn().Err(err).Str("user_id", v.userID).Int("held", len(v.records)).Msg("gallery page fetch failed")
		return nil, fmt.Errorf("%w: list records: %w", models.ErrRead, err)
	}

	batch = inScope(v.userID, batch)
	if len(batch) > 0 {
		c := repository.CursorOf(batch[len(batch)-1])
		v.cursor = &c
	}
	v.records = Merge(v.records, batch)
	v.state = StateReady
	v.notify()

	return batch, nil
}

// Close unbinds the view and releases its live subscription.
func (v *View) Close() error {
	err := v.unbind()
	v.reader.forget(v)
	return err
}

func (v *View) listen(gen uint64, updates <-chan []models.ImageRecord) {
	for snapshot := range updates {
		v.apply(gen, snapshot)
	}
}

func (v *View) apply(gen uint64, snapshot []models.ImageRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gen != gen || v.state == StateUnbound {
		return
	}
	snapshot = inScope(v.userID, snapshot)
	if len(snapshot) == 0 {
		return
	}
	v.records = Merge(v.records, snapshot)
	v.notify()
}

// unbind discards everything the view holds. It reports the error of
// closing the subscription, if any.
func (v *View) unbind() error {
	v.mu.Lock()
	if v.state == StateUnbound {
		v.mu.Unlock()
		return nil
	}
	v.gen++
	v.state = StateUnbound
	v.records = nil
	v.cursor = nil
	sub := v.sub
	v.sub = nil
	v.notify()
	v.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Close(); err != nil {
		return fmt.Errorf("close live subscription: %w", err)
	}
	return nil
}

func (v *View) notify() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

func inScope(userID string, records []models.ImageRecord) []models.ImageRecord {
	out := make([]models.ImageRecord, 0, len(records))
	for _, rec := range records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}
