package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/BuissonFlorent/LKIT/internal/config"
	"github.com/BuissonFlorent/LKIT/internal/service"
	"github.com/BuissonFlorent/LKIT/internal/storage"
)

// Usage example on the command line:
// > PORT=8080 LKIT_DATA_DIR=/tmp/lkit GIN_MODE=release GIN_LOGGING=OFF go run main.go -config=lkit.yaml
func main() {
	configPtr := flag.String("config", "", "the YAML config file to use")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatal(err)
	}
	store, err := storage.NewStore(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	service.SetupStorage(store)
	router := service.SetupHttpRouter(cfg.Server.RequestLogging())
	if !cfg.Server.RequestLogging() {
		fmt.Println("Turning off HTTP request logging.")
	}
	log.Printf("Serving persons from %s", store.Dir())
	if err := router.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatal(err)
	}
}
