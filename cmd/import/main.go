package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/BuissonFlorent/LKIT/internal/config"
	"github.com/BuissonFlorent/LKIT/internal/importer"
	"github.com/BuissonFlorent/LKIT/internal/storage"
)

// Usage example on the command line:
// > DBHOST=localhost:3306 DBUSER=dirk DBPWD=bullo92 go run main.go -config=lkit.yaml
func main() {
	configPtr := flag.String("config", "", "the YAML config file to use")
	flag.Parse()

	if err := run(*configPtr); err != nil {
		log.Fatal(err)
	}
}

// run imports the contacts. It returns instead of exiting so that the database is always closed.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := storage.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	db, err := importer.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := importer.Import(db, store)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d contacts into %s, skipped %d.\n", result.Imported, store.Dir(), result.Skipped)
	return nil
}
