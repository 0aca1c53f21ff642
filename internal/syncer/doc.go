// Package syncer feeds a /sync response to the key management handlers.
//
// Parse decodes the parts of a sync response that matter for end-to-end
// encryption. Dispatch first records room encryption and membership state
// so the handlers see it, then delivers the four signal classes (one-time
// key counts, device list deltas, membership changes, to-device events)
// concurrently, one goroutine per class. Within a class events keep their
// sync order.
package syncer
