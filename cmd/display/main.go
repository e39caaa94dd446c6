package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/kick_trigger/internal/app"
	"github.com/relabs-tech/kick_trigger/internal/config"
)

func main() {
	configPath := flag.String("config", "./kick_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting kick-trigger display (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
