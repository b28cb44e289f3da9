package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/adapters/media"
	"github.com/meshcall/meshcall/internal/adapters/rtc"
	"github.com/meshcall/meshcall/internal/adapters/signal"
	"github.com/meshcall/meshcall/internal/app"
	"github.com/meshcall/meshcall/internal/config"
	"github.com/meshcall/meshcall/internal/core"
)

// logObserver prints mesh events; a real embedder renders tiles instead.
type logObserver struct{}

func (logObserver) OnRemoteStream(peer core.PeerID, stream core.RemoteStream) {
	log.Info().
		Str("peer", string(peer)).
		Bool("audio", stream.Audio != nil).
		Bool("video", stream.Video != nil).
		Msg("remote stream")
}

func (logObserver) OnPeerDisconnected(peer core.PeerID) {
	log.Info().Str("peer", string(peer)).Msg("peer disconnected")
}

func (logObserver) OnParticipantUpdate() {
	log.Info().Msg("participants changed")
}

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Session == "" {
		log.Fatal().Msg("session key required (set session in config)")
	}

	capturer, err := media.NewCapturer(cfg.VideoWidth, cfg.VideoHeight, cfg.FrameRate)
	if err != nil {
		log.Fatal().Err(err).Msg("capturer init")
	}

	rtcConfig := rtc.DefaultConfig(cfg.ICEServers)
	conns := func(peer core.PeerID) (core.MediaConnection, error) {
		return rtc.New(rtcConfig, peer)
	}

	key := core.SessionKey(cfg.Session)
	channels := func(self core.PeerID, handler core.SignalHandler) core.SignalChannel {
		if cfg.SignalBackend == "redis" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			return signal.NewRedisChannel(rdb, key, self, handler)
		}
		return signal.NewWSChannel(cfg.SignalURL, cfg.SignalToken, key, self, handler)
	}

	session := app.NewSession(key, capturer, conns, channels)
	session.Subscribe(logObserver{})

	if err := session.Join(ctx, true, true); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	log.Info().Str("session", cfg.Session).Str("peer", string(session.Self())).Msg("in session, ctrl-c to leave")

	<-ctx.Done()
	session.Leave()
}
