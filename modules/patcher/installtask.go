package patcher

import "context"

// installTask lets the Scheduler drive every task kind, HTTP or Stream,
// identically through a single interface rather than a switch over a
// discriminated union.
type installTask interface {
	// Repair drives this task to completion, or returns ExhaustedRetries
	// once its retry budget is spent. Cancellation is observed
	// cooperatively via cancellation.
	Repair(cancellation <-chan struct{}) error
	// SourceIndex identifies which source patch this task reads from.
	SourceIndex() int
	// ProgressValue is the number of target bytes written so far.
	ProgressValue() int64
	// ProgressMax is the total number of target bytes this task will write.
	ProgressMax() int64
}

// stopChanContext bridges a cooperative stop channel to a context.Context,
// the shape net/http's NewRequestWithContext needs to abort an in-flight
// request (headers or body) the moment cancellation fires. The returned
// cancel func must be called once the request's body is fully drained, not
// immediately after headers arrive, or the body read aborts early.
func stopChanContext(stop <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
