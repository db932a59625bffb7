// store-emulator runs an in-memory stand-in for the hosted tree store, for
// local development and integration tests.
package main

import (
	"net/http"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/m3loqt/unihealth-app-sub008/internal/emulator"
	"github.com/m3loqt/unihealth-app-sub008/internal/logger"
	"github.com/m3loqt/unihealth-app-sub008/internal/store/memory"
)

type settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":9325"`
	Token      string `envconfig:"STORE_TOKEN" default:""`
}

func main() {
	var cfg settings
	if err := envconfig.Process("unihealth", &cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	lg := logger.New("store-emulator")
	srv := emulator.New(memory.New(), cfg.Token, lg)

	lg.Info().Str("addr", cfg.ListenAddr).Bool("auth", cfg.Token != "").Msg("store emulator listening")
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Handler()); err != nil {
		lg.Error().Err(err).Msg("store emulator exited with error")
		os.Exit(1)
	}
}
