//go:build linux

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Platform returns the capture functions and a webrtc.API whose
// MediaEngine carries the VP8/Opus parameters the captured tracks encode
// with. Links must be built from this API.
func Platform() (CaptureFunc, ScreenFunc, *webrtc.API, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, nil, nil, fmt.Errorf("interceptors: %w", err)
	}

	// The default 5s disconnectedTimeout drops a link on any brief NAT
	// hiccup; mesh peers behind relays need more slack.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	capture := func(ctx context.Context) (*CaptureResult, error) {
		return getUserMedia(ctx, selector)
	}
	screen := func() (webrtc.TrackLocal, func(), error) {
		return getDisplayMedia(selector)
	}
	return capture, screen, api, nil
}

// getUserMedia tries video+audio first, then video-only, then audio-only,
// so a missing or busy microphone does not take the camera down with it.
func getUserMedia(ctx context.Context, selector *mediadevices.CodecSelector) (*CaptureResult, error) {
	attempts := []struct {
		video bool
		audio bool
		label string
	}{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = videoConstraints
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		res := &CaptureResult{Stop: func() {
			for _, t := range tracks {
				t.Close()
			}
		}}
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warn().Err(err).Str("module", "media").Msg("local track ended")
				}
			})
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				res.Audio = track
			case webrtc.RTPCodecTypeVideo:
				res.Video = track
			}
		}
		log.Info().Str("module", "media").Str("attempt", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		return res, nil
	}
	return nil, fmt.Errorf("all capture attempts failed: %w", lastErr)
}

func videoConstraints(c *mediadevices.MediaTrackConstraints) {
	// Raw formats only: some cameras expose an MJPEG node that produces
	// malformed frames and poisons the VP8 encoder.
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: 640}
	c.Height = prop.IntRanged{Max: 480}
}

func getDisplayMedia(selector *mediadevices.CodecSelector) (webrtc.TrackLocal, func(), error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("display media: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, nil, ErrNoScreenCapture
	}
	track := tracks[0]
	stop := func() {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
	}
	return track, stop, nil
}
