package testutil

import (
	"context"
	"sync"

	"go.ntppool.org/srvmon/client/description"
)

// Change is one recorded notification.
type Change struct {
	Previous description.Description
	Current  description.Description
}

// RecordingNotifier records every Notify call, changed or not.
type RecordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (r *RecordingNotifier) Notify(_ context.Context, previous, current description.Description) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, Change{previous, current})
}

// DescriptionChanged makes RecordingNotifier usable as an inspector
// listener, too.
func (r *RecordingNotifier) DescriptionChanged(ctx context.Context, previous, current description.Description) {
	r.Notify(ctx, previous, current)
}

func (r *RecordingNotifier) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *RecordingNotifier) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}
