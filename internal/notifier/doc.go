// Package notifier delivers status-change notices to a subscriber's channel.
//
// # Delivery discipline
//
// A Dispatcher clears before it posts: every message in the target channel
// that the bot itself authored is deleted first, so the channel holds at most
// one outstanding status notice. Individual delete failures are logged and
// skipped.
//
// # Text
//
// The notice is phrased by a composer.Composer bounded by a timeout. When the
// composer errors or returns nothing, composer.Fallback is used so a notice is
// never dropped for lack of text.
//
// # Pacing
//
// Posts are paced by a token bucket and retried with jittered exponential
// backoff. A small in-memory history of recent deliveries is kept for the
// dashboard.
package notifier
