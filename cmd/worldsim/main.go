// Command worldsim runs the nation simulation in real time and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/api"
	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/config"
	"github.com/talgya/statecraft/internal/dispatch"
	"github.com/talgya/statecraft/internal/engine"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/logger"
	"github.com/talgya/statecraft/internal/persistence"
	"github.com/talgya/statecraft/internal/publish"
	"github.com/talgya/statecraft/internal/world"
)

const defaultSecret = "dev-secret-change-me"

func main() {
	var (
		printToken bool
		fresh      bool
		crypto     bool
		noDB       bool
	)
	flag.BoolVar(&printToken, "print-token", false, "Print an admin token for JWT_SECRET and exit")
	flag.BoolVar(&fresh, "fresh", false, "Ignore saved snapshots and generate a new world")
	flag.BoolVar(&crypto, "crypto", false, "Use non-replayable randomness for the daily tick")
	flag.BoolVar(&noDB, "no-db", false, "Run without persistence")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.InitWith(cfg.LogLevel, cfg.LogFile)

	auth := api.NewAuth(cfg.JWTSecret, 24*time.Hour)
	if printToken {
		tok, err := auth.Issue("operator")
		if err != nil {
			log.Fatal().Err(err).Msg("cannot issue token")
		}
		fmt.Println(tok)
		return
	}
	if cfg.JWTSecret == defaultSecret {
		log.Warn().Msg("JWT_SECRET is the development default, admin endpoints are not protected")
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.CatalogFile).Msg("catalog load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	var db *persistence.DB
	if !noDB {
		db, err = persistence.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database open failed")
		}
		defer db.Close()
		log.Info().Str("driver", db.Driver()).Msg("database opened")
	}

	st, resumed := loadOrGenerate(ctx, db, cfg, cat, fresh)
	log.Info().
		Int64("seed", st.Seed).
		Int("nations", len(st.Nations)).
		Str("population", humanize.Comma(int64(st.Player.TotalPopulation()))).
		Str("date", engine.Calendar(st.Day)).
		Bool("resumed", resumed).
		Msg("world ready")

	if db != nil && !resumed {
		if _, err := db.SaveSnapshot(ctx, st); err != nil {
			log.Error().Err(err).Msg("initial snapshot failed")
		}
	}

	// Redis (optional)
	var pub *publish.Redis
	if cfg.RedisURL != "" {
		pub, err = publish.NewRedis(ctx, cfg.RedisURL, publish.DefaultPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, event publishing disabled")
			pub = nil
		} else {
			defer pub.Close()
			log.Info().Str("channel", pub.Channel()).Msg("publishing events to redis")
		}
	}

	// Engine
	pipeline := engine.NewPipeline(cat, engine.Options{Trade: cfg.Sim.Trade, Disabled: cfg.Sim.DisabledStages})
	eng := engine.NewEngine(pipeline, st)
	eng.Interval = cfg.TickInterval
	eng.SetSpeed(cfg.Sim.Speed)
	if crypto {
		eng.Source = entropy.Crypto{}
		log.Warn().Msg("crypto randomness enabled, this run cannot be replayed")
	}

	d := dispatch.New(cat)
	limiter := api.NewRateLimiter(cfg.Sim.RateLimit, cfg.Sim.RateBurst)
	srv := api.NewServer(eng, d, db, auth, limiter, cfg.Sim.EventBuffer)
	srv.Port = cfg.Port

	eng.OnDay = func(s world.State, evs []events.Event) {
		srv.Record(s, evs)
		if db != nil {
			if err := db.SaveDay(ctx, s, evs, cfg.Sim.SnapshotEvery); err != nil {
				log.Error().Err(err).Int("day", s.Day).Msg("daily save failed")
			}
		}
		if pub != nil {
			if err := pub.PublishDay(ctx, s.Day, evs, engine.Summarize(&s)); err != nil {
				log.Warn().Err(err).Int("day", s.Day).Msg("redis publish failed")
			}
		}
	}

	srv.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("shutting down")
		eng.Stop()
	}()

	fmt.Printf("\nStatecraft: %d nations, %s subjects, treasury %s.\n",
		len(st.Nations), humanize.Comma(int64(st.Player.TotalPopulation())), humanize.CommafWithDigits(st.Player.Treasury, 2))
	fmt.Printf("API: http://localhost:%s/api/v1/status\n", cfg.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	if db != nil {
		log.Info().Msg("final save...")
		if _, err := db.SaveSnapshot(shutdownCtx, eng.State()); err != nil {
			log.Error().Err(err).Msg("final save failed")
		}
	}
	fmt.Println("Simulation stopped.")
}

// loadOrGenerate resumes from the latest snapshot, or generates a new world
// when there is none.
func loadOrGenerate(ctx context.Context, db *persistence.DB, cfg *config.Config, cat *catalog.Catalog, fresh bool) (world.State, bool) {
	if db != nil && !fresh {
		st, err := db.LatestSnapshot(ctx)
		switch {
		case err == nil:
			world.Normalize(&st, cat)
			return st, true
		case !errors.Is(err, persistence.ErrNoSnapshot):
			log.Fatal().Err(err).Msg("failed to load snapshot")
		}
		log.Info().Msg("no saved state found, generating new world")
	}
	st := world.Generate(world.GenConfig{Seed: cfg.Seed, Nations: cfg.Sim.Nations, Epoch: cfg.Sim.Epoch}, cat)
	return st, false
}
