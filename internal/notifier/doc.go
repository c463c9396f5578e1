// Package notifier delivers the "back in stock" message for a product.
//
// A Send that returns nil means the message was handed to the mail server
// (or, in dry-run mode, that delivery was simulated). Any error means the
// product must stay eligible for a later run. Deduplication is the caller's
// job; this package sends exactly one message per successful call.
//
// # Transport
//
// Email talks SMTP directly: a context-aware dial, STARTTLS when the server
// offers it (or implicit TLS), and PLAIN auth when credentials are set.
// Sends are throttled with a token bucket so a burst of restocks does not
// trip provider limits.
package notifier
