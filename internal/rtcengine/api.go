package rtcengine

import (
	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// APIOptions tune the shared webrtc.API that all engines of one
// participant are built from.
type APIOptions struct {
	// LoggerFactory routes pion's internal logging; defaults to pion's
	// stderr factory.
	LoggerFactory logging.LoggerFactory
	// Net overrides the network stack (vnet in tests).
	Net transport.Net
}

// NewAPI constructs the webrtc.API. Misconfigurations surface here, once,
// instead of on every peer connection.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	} else {
		se.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}
