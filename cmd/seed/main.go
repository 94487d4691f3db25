// Command main seeds demo payout requests into a development database.
package main

import (
	"flag"
	"log"

	"finsys/internal/config"
	"finsys/internal/database"
	"finsys/internal/seed"
)

func main() {
	count := flag.Int("requests", 25, "Number of payout requests to create")
	shouldClean := flag.Bool("clean", false, "Delete existing payout requests first")
	seedValue := flag.Int64("seed", 0, "Random seed for reproducible data (0 = random)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{
		Requests:  *count,
		MaxAmount: cfg.MaxTransactionLimit,
		Seed:      *seedValue,
	})

	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	reqs, err := s.Run()
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %d payout requests", len(reqs))
}
