package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/database"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/seed"

	"github.com/joho/godotenv"
)

func main() {
	geojsonPath := flag.String("geojson", "data/ny_counties.geojson", "path to the county boundaries GeoJSON file")
	ratesPath := flag.String("rates", "data/ny_county_rates.csv", "path to the county rates CSV (fips,name,rate)")
	flag.Parse()

	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	db, err := database.NewConnection(buildDSN())
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	ctx := context.Background()
	seeder := seed.New(db)

	if err := seeder.Run(ctx, *geojsonPath, *ratesPath); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	adminUser := envOr("SEED_ADMIN_USER", "admin")
	adminPass := envOr("SEED_ADMIN_PASSWORD", "changeme")
	if err := seeder.EnsureAdmin(ctx, adminUser, adminPass); err != nil {
		log.Fatalf("Admin bootstrap failed: %v", err)
	}
}

func buildDSN() string {
	return "postgres://" + envOr("DB_USER", "postgres") + ":" + envOr("DB_PASSWORD", "postgres") +
		"@" + envOr("DB_HOST", "localhost") + ":" + envOr("DB_PORT", "5432") +
		"/" + envOr("DB_NAME", "postgres") + "?sslmode=" + envOr("DB_SSLMODE", "disable")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
