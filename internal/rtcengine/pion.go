package rtcengine

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"concall/internal/protocol"
)

// controlChannelLabel names the data channel opened on every peer
// connection. It guarantees the SDP carries at least one m-line, so a
// participant without local media can still produce valid offers and
// answers.
const controlChannelLabel = "control"

// PionEngine implements Engine on a pion PeerConnection.
type PionEngine struct {
	pc      *webrtc.PeerConnection
	control *webrtc.DataChannel
}

var _ Engine = (*PionEngine)(nil)

// NewPionEngine constructs the peer connection from a shared API (see
// NewAPI) and the ICE server configuration.
func NewPionEngine(api *webrtc.API, iceServers []webrtc.ICEServer) (*PionEngine, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	control, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}

	return &PionEngine{pc: pc, control: control}, nil
}

func (e *PionEngine) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SessionDescriptionFromPion(offer), nil
}

func (e *PionEngine) CreateAnswer() (protocol.SessionDescription, error) {
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SessionDescriptionFromPion(answer), nil
}

func (e *PionEngine) SetLocalDescription(desc protocol.SessionDescription) error {
	pionDesc, err := desc.ToPion()
	if err != nil {
		return err
	}
	return e.pc.SetLocalDescription(pionDesc)
}

func (e *PionEngine) SetRemoteDescription(desc protocol.SessionDescription) error {
	pionDesc, err := desc.ToPion()
	if err != nil {
		return err
	}
	return e.pc.SetRemoteDescription(pionDesc)
}

func (e *PionEngine) AddICECandidate(c protocol.Candidate) error {
	return e.pc.AddICECandidate(c.ToPion())
}

func (e *PionEngine) AddTrack(t LocalTrack) error {
	pt, ok := t.(*PionTrack)
	if !ok {
		return fmt.Errorf("track %T is not a pion track", t)
	}
	sender, err := e.pc.AddTrack(pt.track)
	if err != nil {
		return err
	}

	// Drain RTCP so the interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (e *PionEngine) OnICECandidate(f func(*protocol.Candidate)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(nil)
			return
		}
		cand := protocol.CandidateFromPion(c.ToJSON())
		f(&cand)
	})
}

func (e *PionEngine) OnTrack(f func(RemoteTrack)) {
	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(pionRemoteTrack{track: track})
	})
}

func (e *PionEngine) OnConnectionStateChange(f func(State)) {
	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f(stateFromPion(s))
	})
}

func (e *PionEngine) Close() error {
	return e.pc.Close()
}

func stateFromPion(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	default:
		return StateClosed
	}
}

// PionTrack wraps a local static-sample track. The enabled flag is the
// local mute switch: sample producers must check Enabled before writing.
type PionTrack struct {
	kind    TrackKind
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

var _ LocalTrack = (*PionTrack)(nil)

// NewLocalTrack builds a local audio (Opus) or video (VP8) track.
func NewLocalTrack(kind TrackKind, trackID, streamID string) (*PionTrack, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case TrackAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	case TrackVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	default:
		return nil, fmt.Errorf("unsupported track kind %q", kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(capability, trackID, streamID)
	if err != nil {
		return nil, err
	}

	pt := &PionTrack{kind: kind, track: track}
	pt.enabled.Store(true)
	return pt, nil
}

func (t *PionTrack) Kind() TrackKind { return t.kind }

func (t *PionTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *PionTrack) Enabled() bool { return t.enabled.Load() && !t.stopped.Load() }

func (t *PionTrack) Stop() { t.stopped.Store(true) }

// Sample exposes the underlying track for sample producers.
func (t *PionTrack) Sample() *webrtc.TrackLocalStaticSample { return t.track }

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t pionRemoteTrack) StreamID() string { return t.track.StreamID() }

func (t pionRemoteTrack) Kind() TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeAudio {
		return TrackAudio
	}
	return TrackVideo
}

// Track exposes the underlying pion track for consumers that read media.
func (t pionRemoteTrack) Track() *webrtc.TrackRemote { return t.track }
