// Package broadcast delivers enrichment lifecycle events to connected
// clients. Every delivery consults a Policy so a subscriber only sees events
// from scopes the current rule allows; a policy lookup failure withholds the
// event.
//
// A single process calls Emit and Deliver directly. When workers and web
// servers run apart, WithPublisher routes emissions through a RedisRelay and
// each server runs the relay to deliver locally.
package broadcast
