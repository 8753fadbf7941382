// Package inspector compares successive server descriptions and tells
// the registered listeners about changes.
package inspector

import (
	"context"
	"sync"

	"go.ntppool.org/common/logger"

	"go.ntppool.org/srvmon/client/description"
)

// Listener is told about every published change to a server's
// description.
type Listener interface {
	DescriptionChanged(ctx context.Context, previous, current description.Description)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, previous, current description.Description)

func (f ListenerFunc) DescriptionChanged(ctx context.Context, previous, current description.Description) {
	f(ctx, previous, current)
}

// Inspector fans description changes out to listeners. It's safe for
// concurrent use by many monitors.
type Inspector struct {
	mu        sync.RWMutex
	listeners []Listener
}

func New(listeners ...Listener) *Inspector {
	return &Inspector{listeners: listeners}
}

// AddListener registers another listener.
func (in *Inspector) AddListener(l Listener) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.listeners = append(in.listeners, l)
}

// Notify compares the two descriptions and calls the listeners if they
// differ. Listeners run synchronously in registration order; a panicking
// listener is logged and doesn't affect the others or the caller.
func (in *Inspector) Notify(ctx context.Context, previous, current description.Description) {
	if previous.Equal(current) {
		return
	}

	in.mu.RLock()
	listeners := in.listeners
	in.mu.RUnlock()

	for _, l := range listeners {
		in.call(ctx, l, previous, current)
	}
}

func (in *Inspector) call(ctx context.Context, l Listener, previous, current description.Description) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).ErrorContext(ctx, "description listener panic",
				"address", current.Address().String(), "panic", r)
		}
	}()
	l.DescriptionChanged(ctx, previous, current)
}
