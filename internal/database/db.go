package database

import (
	"log"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Spatial containment needs PostGIS before the geometry column can migrate
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
		return nil, err
	}

	// Auto-migrate core models
	err = db.AutoMigrate(
		&model.User{},
		&model.Jurisdiction{},
		&model.TaxRate{},
		&model.Order{},
		&model.AuditLog{},
	)
	if err != nil {
		log.Println("WARNING: Failed to auto-migrate models:", err)
	}

	// GiST index drives the point-in-polygon lookups
	if err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_geo_jurisdictions_geom ON geo_jurisdictions USING GIST (geom)",
	).Error; err != nil {
		log.Println("WARNING: Failed to create spatial index:", err)
	}

	return db, nil
}
