package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pchastel/causerie/pkg/database"
	"github.com/pchastel/causerie/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.causerie/config.toml", "path to config file")
	port := flag.Int("port", 0, "TCP port (overrides config)")
	dbPath := flag.String("db", "", "database path (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	config := tomlConfig.Runtime()
	if *port != 0 {
		config.TCPPort = *port
	}

	databasePath := tomlConfig.Server.DatabasePath
	if *dbPath != "" {
		databasePath = *dbPath
	}
	databasePath, err = server.ExpandPath(databasePath)
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	dataDir, err := server.ExpandPath(tomlConfig.Server.DataDir)
	if err != nil {
		log.Fatalf("Failed to resolve data directory: %v", err)
	}

	if err := server.InitLogging(dataDir); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if *debug {
		server.EnableDebugLogging(dataDir)
	}

	if err := os.MkdirAll(filepath.Dir(databasePath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.Open(databasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	srv := server.NewServer(db, config)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("causerie server listening on %s (db: %s)", srv.Addr(), databasePath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
