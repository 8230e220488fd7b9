// Package media owns local capture: the camera, microphone and screen
// tracks published to every peer link. Capture failure is not fatal; the
// session continues as a read-only participant.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoScreenCapture = errors.New("screen capture unavailable")

// CaptureResult is what a successful camera+microphone acquisition yields.
// Either track may be nil when the ladder landed on a partial attempt.
type CaptureResult struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
	Stop  func()
}

// CaptureFunc acquires camera and microphone. The platform implementation
// lives behind a build tag; tests inject synthetic tracks.
type CaptureFunc func(ctx context.Context) (*CaptureResult, error)

// ScreenFunc acquires one screen-share video track and its stop func.
type ScreenFunc func() (webrtc.TrackLocal, func(), error)

// Source implements core.TrackSource. Capture runs asynchronously; once
// it settles (with tracks or without) onSettled fires exactly once.
type Source struct {
	capture   CaptureFunc
	screen    ScreenFunc
	onSettled func()

	mu           sync.Mutex
	audio        webrtc.TrackLocal
	camera       webrtc.TrackLocal
	screenTrack  webrtc.TrackLocal
	stopCapture  func()
	stopScreen   func()
	audioEnabled bool
	sharing      bool
	settled      bool
	stopped      bool
}

// NewSource builds a source around the given capture functions. A nil
// capture settles immediately in read-only mode (platforms without
// drivers, or capture disabled by config).
func NewSource(capture CaptureFunc, screen ScreenFunc, onSettled func()) *Source {
	return &Source{
		capture:      capture,
		screen:       screen,
		onSettled:    onSettled,
		audioEnabled: true,
	}
}

// Start kicks off acquisition. It never blocks the caller.
func (s *Source) Start(ctx context.Context) {
	if s.capture == nil {
		log.Info().Str("module", "media").Msg("no capture configured, read-only participant")
		s.settle(nil)
		return
	}
	go func() {
		res, err := s.capture(ctx)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("capture failed, continuing read-only")
			s.settle(nil)
			return
		}
		s.settle(res)
	}()
}

func (s *Source) settle(res *CaptureResult) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if res != nil && res.Stop != nil {
			res.Stop()
		}
		return
	}
	if res != nil {
		s.audio = res.Audio
		s.camera = res.Video
		s.stopCapture = res.Stop
	}
	s.settled = true
	s.mu.Unlock()

	if s.onSettled != nil {
		s.onSettled()
	}
}

// Tracks returns the currently published set and whether capture has
// settled. A muted microphone is omitted so new links never send audio
// the user disabled.
func (s *Source) Tracks() ([]webrtc.TrackLocal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settled {
		return nil, false
	}
	var out []webrtc.TrackLocal
	if s.audio != nil && s.audioEnabled {
		out = append(out, s.audio)
	}
	if v := s.currentVideo(); v != nil {
		out = append(out, v)
	}
	return out, true
}

func (s *Source) currentVideo() webrtc.TrackLocal {
	if s.sharing {
		return s.screenTrack
	}
	return s.camera
}

func (s *Source) SetAudioEnabled(enabled bool) webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = enabled
	if !enabled {
		return nil
	}
	return s.audio
}

// SwapVideo switches between camera and screen share. Both directions
// return the track that should now occupy every link's video sender.
func (s *Source) SwapVideo(toScreen bool) (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if toScreen {
		if s.sharing {
			return s.screenTrack, nil
		}
		if s.screen == nil {
			return nil, ErrNoScreenCapture
		}
		track, stop, err := s.screen()
		if err != nil {
			return nil, err
		}
		s.screenTrack = track
		s.stopScreen = stop
		s.sharing = true
		log.Info().Str("module", "media").Msg("screen share started")
		return track, nil
	}
	if !s.sharing {
		return s.camera, nil
	}
	if s.stopScreen != nil {
		s.stopScreen()
	}
	s.screenTrack = nil
	s.stopScreen = nil
	s.sharing = false
	log.Info().Str("module", "media").Msg("screen share stopped")
	return s.camera, nil
}

// Stop releases all capture. Idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.stopScreen != nil {
		s.stopScreen()
		s.stopScreen = nil
	}
	if s.stopCapture != nil {
		s.stopCapture()
		s.stopCapture = nil
	}
	s.audio = nil
	s.camera = nil
	s.screenTrack = nil
	s.sharing = false
	log.Info().Str("module", "media").Msg("capture stopped")
}
