package core

import "github.com/pion/webrtc/v4"

// TrackSource owns the local capture set. It is the only component that
// may mutate the tracks; every peer link publishes the same shared set.
type TrackSource interface {
	// Tracks returns the tracks to publish and whether capture has
	// settled. Before the settle event the set is unknown; after a failed
	// capture it is settled and empty (read-only participant).
	Tracks() ([]webrtc.TrackLocal, bool)

	// SetAudioEnabled flips the microphone on or off. When enabling it
	// returns the audio track (nil if none was captured) so the caller
	// can restore it on existing senders.
	SetAudioEnabled(enabled bool) webrtc.TrackLocal

	// SwapVideo switches the published video between camera and screen.
	// The returned track (possibly nil) replaces the current video on
	// every link; switching back is the same kind of swap.
	SwapVideo(toScreen bool) (webrtc.TrackLocal, error)

	// Stop releases capture. Safe to call repeatedly.
	Stop()
}
