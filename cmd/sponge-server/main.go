// Command sponge-server serves cube fractal meshes over websocket.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/sponge/internal/config"
	"github.com/chazu/sponge/internal/server"
	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/presets"
	"github.com/chazu/sponge/pkg/regen"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("sponge-server: %v", err)
	}

	rules := presets.NewRegistry()
	if cfg.Generator.RulesFile != "" {
		rules, err = presets.LoadFile(cfg.Generator.RulesFile)
		if err != nil {
			log.Fatalf("sponge-server: %v", err)
		}
		log.Printf("sponge-server: loaded %d rules from %s", rules.Len(), cfg.Generator.RulesFile)
	}

	seed := cfg.Generator.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rg := regen.New(
		regen.WithSource(fractal.NewSource(seed)),
		regen.WithTimeout(cfg.Generator.Timeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg, rg, rules).ListenAndServe(ctx); err != nil {
		log.Fatalf("sponge-server: %v", err)
	}
	log.Printf("sponge-server: stopped")
}
