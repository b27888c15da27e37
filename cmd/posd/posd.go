package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tablepos/promptpay/pos"
)

func main() {
	// .env is optional, the environment may already be set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("error loading .env file: %v", err)
	}

	config, err := pos.GetConfig()
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	server, err := pos.SetupServer(config)
	if err != nil {
		log.Fatalf("error setting up pos server: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		if err := server.Shutdown(); err != nil {
			log.Printf("error shutting down pos server: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("error running pos server: %v", err)
	}
}
