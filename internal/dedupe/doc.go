// Package dedupe provides a TTL-bounded seen-set for event fingerprints,
// suppressing transport redelivery and reconnect replays before events
// reach the reconciler.
package dedupe
