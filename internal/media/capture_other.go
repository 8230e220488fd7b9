//go:build !linux

package media

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Platform on non-Linux builds carries no capture drivers: the client
// joins as a read-only participant with a default-codec API.
func Platform() (CaptureFunc, ScreenFunc, *webrtc.API, error) {
	log.Warn().Str("module", "media").Msg("no capture drivers on this platform, read-only participant")

	api, err := DefaultAPI()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, nil, api, nil
}
