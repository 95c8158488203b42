package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/auth"
	"github.com/bitspanel/ebs/internal/config"
	"github.com/bitspanel/ebs/internal/database"
	"github.com/bitspanel/ebs/internal/handler"
	"github.com/bitspanel/ebs/internal/queue"
	"github.com/bitspanel/ebs/internal/relay"
	"github.com/bitspanel/ebs/internal/repository"
	"github.com/bitspanel/ebs/internal/router"
	"github.com/bitspanel/ebs/internal/twitch"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis backs the per-webhook redemption cooldown.  A nil client simply
	// disables the gate.
	rdb := config.NewRedisClient()

	broadcasters := repository.NewBroadcasterRepo(db)
	layouts := repository.NewLayoutRepo(db)
	elements := repository.NewElementRepo(db)
	ownership := repository.NewOwnershipRepo(db)

	verifier := auth.NewVerifier(cfg.ExtensionSecret)
	notifier := twitch.NewNotifier(cfg.ExtensionSecret, cfg.ClientID, cfg.PubSubURL, cfg.RequestTimeout)
	rl := relay.New(elements, verifier, cfg.RequestTimeout, rdb)

	h := handler.New(broadcasters, layouts, elements, notifier, rl)

	// Background consumer for the redemption audit trail.  It reconnects on
	// its own; a missing broker must not keep the API down.
	go func() {
		if err := queue.StartRedemptionConsumer(); err != nil {
			log.Printf("redemption-consumer: stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, h, verifier, ownership, cfg.AuthBypass)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
