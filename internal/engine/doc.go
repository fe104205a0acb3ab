// Package engine runs the rosterd event loop.
//
// Provider notifications arrive as Events through Enqueue, from any
// goroutine. A single goroutine (Run, or Drain and Tick in tests) applies
// them in FIFO order, so every store write has one writer.
//
// Account events are applied immediately through the reconciler. Contact
// changes are buffered by the Coalescer and written in one batch once the
// debounce interval passes without a new notification, or once the
// maximum wait since the first buffered notification is reached.
//
// Accounts move through a small lifecycle (see AccountState). Events for
// an account the provider has announced but not finished preparing are
// deferred and replayed, in order, when it becomes ready.
//
// A failed event is logged with its context and the loop continues; the
// next full sync repairs whatever the failure left behind.
package engine
