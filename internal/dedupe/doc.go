// Package dedupe tracks recently accepted message ids so a retried
// submission is acknowledged without being dispatched a second time.
package dedupe
