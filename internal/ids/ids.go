package ids

import (
	"time"

	"github.com/segmentio/ksuid"
)

// New returns a k-sortable id: ids created later sort after earlier ones at
// second resolution.
func New() string {
	return ksuid.New().String()
}

// NewAt returns an id whose time component is t.
func NewAt(t time.Time) string {
	id, err := ksuid.NewRandomWithTime(t)
	if err != nil {
		return ksuid.New().String()
	}
	return id.String()
}
