// Command peer is a headless negotiation peer for exercising a signaling
// server end to end: run one instance in offer mode, then a second in
// answer mode with the printed session id.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/procsuite/signaling-server-go/internal/client"
	"github.com/procsuite/signaling-server-go/internal/rtc"
)

var (
	flagServer       string
	flagMode         string
	flagSession      string
	flagPeerID       string
	flagPollInterval time.Duration
	flagVerbose      bool
)

func init() {
	flag.StringVarP(&flagServer, "server", "s", "http://localhost:8080", "Signaling server base URL")
	flag.StringVarP(&flagMode, "mode", "m", "offer", "Negotiation role: offer or answer")
	flag.StringVarP(&flagSession, "session", "", "", "Session id to answer (required in answer mode)")
	flag.StringVarP(&flagPeerID, "peer-id", "p", "", "Peer identifier (defaults to the hostname)")
	flag.DurationVarP(&flagPollInterval, "poll-interval", "", client.DefaultPollInterval, "How often to poll the session")
	flag.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if flagPeerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "peer"
		}
		flagPeerID = host
	}

	api := client.NewAPIClient(flagServer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	iceServers, err := api.IceConfig(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch ICE configuration")
	}
	log.Info().Int("ice_servers", len(iceServers)).Msg("fetched ICE configuration")

	c := client.New(api, rtc.Factory(iceServers), flagPeerID,
		client.WithPollInterval(flagPollInterval),
		client.WithStateListener(func(s client.State) {
			log.Info().Str("state", string(s)).Msg("negotiation state")
		}),
	)

	switch flagMode {
	case "offer":
		if err := c.Start(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to start negotiation")
		}
		waitForSessionID(c)
		log.Info().Str("session_id", c.SessionID()).Msg("session registered, share this id with the answering peer")
	case "answer":
		if flagSession == "" {
			log.Fatal().Msg("--session is required in answer mode")
		}
		if err := c.Respond(context.Background(), flagSession); err != nil {
			log.Fatal().Err(err).Msg("failed to answer session")
		}
	default:
		log.Fatal().Str("mode", flagMode).Msg("mode must be offer or answer")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	c.Close()
	if err := c.Err(); err != nil {
		log.Error().Err(err).Msg("negotiation ended with error")
		os.Exit(1)
	}
}

func waitForSessionID(c *client.NegotiationClient) {
	for c.SessionID() == "" {
		if c.State() == client.StateError {
			log.Fatal().Err(c.Err()).Msg("negotiation failed before the session was registered")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
