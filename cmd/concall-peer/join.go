package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"concall/internal/rtcengine"
	"concall/internal/session"
	"concall/internal/sigclient"
)

var (
	flagSTUN     []string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagAudio    bool
	flagVideo    bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a conference room and hold peer connections until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(args[0])
	},
}

func runJoin(roomID string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	iceServers, err := resolveICEServers(ctx)
	if err != nil {
		return err
	}
	logger.Info("ice configuration resolved", "servers", len(iceServers))

	api, err := rtcengine.NewAPI(rtcengine.APIOptions{})
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	var tracks []rtcengine.LocalTrack
	if flagAudio {
		track, err := rtcengine.NewLocalTrack(rtcengine.TrackAudio, "audio0", "concall-peer")
		if err != nil {
			return fmt.Errorf("create audio track: %w", err)
		}
		tracks = append(tracks, track)
	}
	if flagVideo {
		track, err := rtcengine.NewLocalTrack(rtcengine.TrackVideo, "video0", "concall-peer")
		if err != nil {
			return fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, track)
	}

	channel, err := sigclient.Dial(ctx, flagServer, logger)
	if err != nil {
		return err
	}
	defer channel.Close()

	mgr, err := session.NewManager(session.Options{
		Logger:  logger,
		Channel: channel,
		Engine: func() (rtcengine.Engine, error) {
			return rtcengine.NewPionEngine(api, iceServers)
		},
		LocalTracks: tracks,
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	if err := mgr.JoinRoom(roomID); err != nil {
		return err
	}
	logger.Info("joining room", "room", roomID, "server", flagServer)

	for {
		select {
		case ev, ok := <-mgr.Events():
			if !ok {
				<-done
				return fmt.Errorf("session ended")
			}
			logEvent(logger, ev)
		case <-ctx.Done():
			// Best effort; the relay's disconnect safety net covers us if
			// the leave never lands.
			_ = mgr.LeaveRoom()
			<-done
			logger.Info("session closed")
			return nil
		}
	}
}

func logEvent(logger *slog.Logger, ev session.Event) {
	switch ev.Kind {
	case session.EventRoomCreated:
		logger.Info("room created, waiting for participants", "room", ev.RoomID)
	case session.EventRoomJoined:
		logger.Info("room joined", "room", ev.RoomID)
	case session.EventPeerStream:
		logger.Info("remote stream", "peer", ev.PeerID, "stream", ev.Stream.StreamID(), "kind", ev.Stream.Kind())
	case session.EventPeerLeft:
		logger.Info("peer left", "peer", ev.PeerID)
	case session.EventLeftRoom:
		logger.Info("left room", "room", ev.RoomID)
	case session.EventNegotiationError:
		logger.Warn("negotiation failed", "peer", ev.PeerID, "error", ev.Err)
	}
}

// resolveICEServers prefers explicit flags, then the relay's /webrtc/ice
// endpoint, so a plain `concall-peer join` picks up whatever the relay
// operator configured.
func resolveICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	if len(flagSTUN) > 0 || flagTURN != "" {
		var servers []webrtc.ICEServer
		if len(flagSTUN) > 0 {
			servers = append(servers, webrtc.ICEServer{URLs: flagSTUN})
		}
		if flagTURN != "" {
			if flagTURNUser == "" || flagTURNPass == "" {
				return nil, fmt.Errorf("--turn requires --turn-user and --turn-pass")
			}
			servers = append(servers, webrtc.ICEServer{
				URLs:       []string{flagTURN},
				Username:   flagTURNUser,
				Credential: flagTURNPass,
			})
		}
		return servers, nil
	}
	return fetchICEServers(ctx, flagServer)
}

func fetchICEServers(ctx context.Context, wsURL string) ([]webrtc.ICEServer, error) {
	endpoint, err := iceEndpoint(wsURL)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ice config: status %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice config: %w", err)
	}
	return body.ICEServers, nil
}

// iceEndpoint maps the websocket URL to the relay's HTTP ICE endpoint,
// e.g. ws://host:5000/ws -> http://host:5000/webrtc/ice.
func iceEndpoint(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = "/webrtc/ice"
	u.RawQuery = ""
	return u.String(), nil
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(flagLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", flagLogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch flagLogFormat {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", flagLogFormat)
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URL (repeatable), overrides the relay's ICE config")
	joinCmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server URL, overrides the relay's ICE config")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN credential")
	joinCmd.Flags().BoolVar(&flagAudio, "audio", false, "attach a local audio track")
	joinCmd.Flags().BoolVar(&flagVideo, "video", false, "attach a local video track")
}
