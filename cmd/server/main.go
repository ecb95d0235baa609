package main

import (
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"ironfront/internal/api"
	"ironfront/internal/config"
	"ironfront/internal/game"
	"ironfront/internal/world"
)

func main() {
	replayPath := flag.String("replay", "", "replay a message log instead of serving")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables only")
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg := config.Load()

	canvas := world.New(int32(cfg.World.Width), int32(cfg.World.Height))

	session := game.NewSession(game.Config{
		ClientID:          uint32(cfg.Game.ClientID),
		Admin:             cfg.Game.Admin,
		GameSpeed:         cfg.Game.GameSpeed,
		SyncCheckInterval: cfg.Game.SyncCheckInterval,
	}, canvas, nil)
	session.AddNeutralPlayer()

	if *replayPath != "" {
		runReplay(session, *replayPath)
		return
	}

	log.Printf("client %d starting (authority=%v, speed=%d, world %dx%d)",
		cfg.Game.ClientID, cfg.Game.Admin, cfg.Game.GameSpeed,
		cfg.World.Width, cfg.World.Height)

	if cfg.Game.MessageLogPath != "" {
		if err := session.MessageLog().Start(cfg.Game.MessageLogPath); err != nil {
			log.Printf("message log disabled: %v", err)
		} else {
			log.Printf("message log: %s", cfg.Game.MessageLogPath)
		}
	}

	loop := game.NewLoop(session, cfg.Game.AdvanceInterval)
	loop.OnAdvanceCall = api.RecordAdvanceCall
	server := api.NewServer(loop, session, cfg.Server.AdminToken)
	server.Hub().SetMaxClients(cfg.Server.MaxClients)
	session.SetTransport(server.Hub().LocalTransport())

	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
			log.Printf("debug server disabled: %v", err)
		}
	}

	go loop.Run()

	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("ready")
	<-quit

	log.Println("shutting down")
	server.Stop()
	loop.Stop()
	session.Shutdown()
}

// runReplay feeds a recorded message log back through the session and
// reports the resulting state, for debugging desyncs offline.
func runReplay(session *game.Session, path string) {
	records, err := game.ReadLogFile(path)
	if err != nil {
		log.Fatalf("read replay log: %v", err)
	}

	session.LoadReplay()
	session.ReplayAll(records)

	stats := session.Stats()
	log.Printf("replayed %d messages", len(records))
	for k, v := range stats {
		log.Printf("  %s: %v", k, v)
	}
}
