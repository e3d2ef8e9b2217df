// Package app composes the beacon identity, the envelope codec and the local
// envelope store into the workflows used by the command line tools.
//
// Responsibilities:
// - Beacon setup and publication staging.
// - Preparing responses for a scanned beacon record.
// - Opening scanned or stored envelopes with throttling of repeated failures.
//
// Non-responsibilities:
// - Image rendering and scanning; payloads leave and enter as JSON bytes.
package app
