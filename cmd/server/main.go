package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"shrike/internal/api"
	_ "shrike/internal/backend/memory"
	_ "shrike/internal/backend/pg"
	"shrike/internal/config"
	"shrike/internal/funcs"
	"shrike/internal/physical"
	"shrike/internal/profile"
	"shrike/internal/view"
)

func main() {
	cfg := config.LoadWithPath("config.json")

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// 1. Загружаем профили (environment, entities, linkages, views)
	set, err := profile.Load(cfg.ProfileDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ProfileDir).Msg("profile load failed")
	}
	log.Info().
		Int("entities", len(set.Entities)).
		Int("linkages", len(set.Linkages)).
		Int("views", len(set.Views)).
		Msg("profiles loaded")

	// 2. Реестр функций: builtins + всё, что нужно профилям
	registry := funcs.NewRegistry()

	// 3. Маршрутизация по окружениям
	phys, err := physical.New(set, registry, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("environment setup failed")
	}
	defer func() { _ = phys.Close() }()

	// 4. REST API сервер
	deps := api.Deps{
		Phys:    phys,
		Views:   view.New(phys, registry, log.Logger),
		LoadSet: func() (*profile.Set, error) { return profile.Load(cfg.ProfileDir) },
		Log:     log.Logger,
	}
	log.Info().Str("port", cfg.Port).Msg("starting server")
	if err := api.RunServer(":"+cfg.Port, deps); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
