package worker

import (
	"time"

	"github.com/okian/trackpick/pkg/logger"
)

// Option configures an InMemoryWorker. Pool options apply to every worker.
type Option func(*InMemoryWorker)

// WithName names the worker; its logger is scoped to the name.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets the parent logger. Each worker logs under
// parent.Named(<worker name>), so pool workers stay distinguishable.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDeliveryTimeout bounds one delivery. A download whose handler does not
// return in time counts as undelivered and is failed over. Zero means no bound.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d >= 0 {
			w.deliveryTimeout = d
		}
	}
}
