// Package seed loads jurisdiction polygons and tax rates into an empty
// database. Both loaders are idempotent: already-populated tables are left
// alone.
package seed

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// County FIPS codes making up the derived polygons.
var (
	nycCountyFIPS = []string{
		"36061", // New York County (Manhattan)
		"36047", // Kings County    (Brooklyn)
		"36081", // Queens County
		"36005", // Bronx County
		"36085", // Richmond County (Staten Island)
	}
	mctdCountyFIPS = []string{
		"36061", "36047", "36081", "36005", "36085", // NYC boroughs
		"36119", // Westchester
		"36087", // Rockland
		"36079", // Putnam
		"36071", // Orange
		"36027", // Dutchess
		"36105", // Sullivan
	}
)

var (
	stateRate = decimal.RequireFromString("0.040000") // NY State
	cityRate  = decimal.RequireFromString("0.045000") // New York City
	mctdRate  = decimal.RequireFromString("0.003750") // MCTD surcharge

	ratesValidFrom = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type Seeder struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// Run loads county polygons from a GeoJSON file, derives the CITY, SPECIAL
// and STATE unions, then seeds rates: the fixed state/city/MCTD rates plus
// per-county rates read from a CSV (columns: fips,name,rate).
func (s *Seeder) Run(ctx context.Context, geojsonPath, countyRatesPath string) error {
	var geoCount int64
	if err := s.db.WithContext(ctx).Model(&model.Jurisdiction{}).Count(&geoCount).Error; err != nil {
		return fmt.Errorf("failed to count jurisdictions: %w", err)
	}

	if geoCount > 0 {
		log.Printf("Geo boundaries already loaded (%d records), skipping.", geoCount)
	} else {
		if err := s.loadCounties(ctx, geojsonPath); err != nil {
			return err
		}
		if err := s.buildDerivedPolygon(ctx, model.JurisdictionCity, "New York City", nycCountyFIPS); err != nil {
			return err
		}
		if err := s.buildDerivedPolygon(ctx, model.JurisdictionSpecial, "MCTD", mctdCountyFIPS); err != nil {
			return err
		}
		if err := s.buildStatePolygon(ctx); err != nil {
			return err
		}
	}

	var rateCount int64
	if err := s.db.WithContext(ctx).Model(&model.TaxRate{}).Count(&rateCount).Error; err != nil {
		return fmt.Errorf("failed to count tax rates: %w", err)
	}
	if rateCount > 0 {
		log.Printf("Tax rates already seeded (%d records), skipping.", rateCount)
		return nil
	}

	if err := s.seedFixedRates(ctx); err != nil {
		return err
	}
	if err := s.seedCountyRates(ctx, countyRatesPath); err != nil {
		return err
	}

	log.Println("Seeding complete.")
	return nil
}

// EnsureAdmin creates the bootstrap admin account when no user exists yet.
func (s *Seeder) EnsureAdmin(ctx context.Context, username, password string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	return s.db.WithContext(ctx).Create(&model.User{
		Username: username,
		Password: string(hash),
		Role:     "admin",
	}).Error
}

// --- GeoJSON loading ---

type geoFeatureCollection struct {
	Features []geoFeature `json:"features"`
}

type geoFeature struct {
	Properties struct {
		Name  string `json:"NAMELSAD"` // e.g. "Albany County"
		GeoID string `json:"GEOID"`    // e.g. "36001"
	} `json:"properties"`
	Geometry geoGeometry `json:"geometry"`
}

type geoGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (s *Seeder) loadCounties(ctx context.Context, geojsonPath string) error {
	f, err := os.Open(geojsonPath)
	if err != nil {
		return fmt.Errorf("failed to open geojson: %w", err)
	}
	defer f.Close()

	var collection geoFeatureCollection
	if err := json.NewDecoder(f).Decode(&collection); err != nil {
		return fmt.Errorf("failed to decode geojson: %w", err)
	}

	inserted := 0
	for _, feature := range collection.Features {
		geomJSON, err := asMultiPolygon(feature.Geometry)
		if err != nil {
			return err
		}

		err = s.db.WithContext(ctx).Exec(`
			INSERT INTO geo_jurisdictions (type, name, fips_code, state_code, geom, created_at)
			VALUES ('COUNTY', ?, ?, 'NY',
			        ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON(?), 4326)), now())`,
			feature.Properties.Name, feature.Properties.GeoID, geomJSON,
		).Error
		if err != nil {
			return fmt.Errorf("failed to insert county %s: %w", feature.Properties.Name, err)
		}
		inserted++
	}

	log.Printf("Inserted %d county polygons.", inserted)
	return nil
}

// asMultiPolygon normalizes Census geometries: both Polygon and MultiPolygon
// appear in the source file.
func asMultiPolygon(g geoGeometry) (string, error) {
	if g.Type == "MultiPolygon" {
		out, err := json.Marshal(g)
		return string(out), err
	}

	wrapped := geoGeometry{
		Type:        "MultiPolygon",
		Coordinates: json.RawMessage("[" + string(g.Coordinates) + "]"),
	}
	out, err := json.Marshal(wrapped)
	return string(out), err
}

func (s *Seeder) buildDerivedPolygon(ctx context.Context, jType, name string, fipsCodes []string) error {
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO geo_jurisdictions (type, name, state_code, geom, created_at)
		SELECT ?, ?, 'NY', ST_Multi(ST_Union(geom)), now()
		FROM geo_jurisdictions
		WHERE type = 'COUNTY' AND fips_code IN ?`,
		jType, name, fipsCodes,
	).Error
	if err != nil {
		return fmt.Errorf("failed to build %s polygon: %w", name, err)
	}
	return nil
}

// buildStatePolygon unions every county into the single STATE jurisdiction.
func (s *Seeder) buildStatePolygon(ctx context.Context) error {
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO geo_jurisdictions (type, name, fips_code, state_code, geom, created_at)
		SELECT 'STATE', 'New York State', '36', 'NY', ST_Multi(ST_Union(geom)), now()
		FROM geo_jurisdictions
		WHERE type = 'COUNTY'`,
	).Error
	if err != nil {
		return fmt.Errorf("failed to build state polygon: %w", err)
	}
	return nil
}

// --- Rates ---

func (s *Seeder) seedFixedRates(ctx context.Context) error {
	fixed := []struct {
		jType string
		name  string
		rate  decimal.Decimal
	}{
		{model.JurisdictionState, "New York State", stateRate},
		{model.JurisdictionCity, "New York City", cityRate},
		{model.JurisdictionSpecial, "MCTD", mctdRate},
	}

	for _, r := range fixed {
		if err := s.insertRate(ctx, r.jType, r.name, r.rate); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) insertRate(ctx context.Context, jType, name string, rate decimal.Decimal) error {
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO tax_rates (jurisdiction_id, rate_type, rate, valid_from, created_at)
		SELECT id, ?, ?, ?, now()
		FROM geo_jurisdictions
		WHERE type = ? AND name = ?`,
		jType, rate, ratesValidFrom, jType, name,
	).Error
	if err != nil {
		return fmt.Errorf("failed to seed %s rate for %s: %w", jType, name, err)
	}
	return nil
}

// seedCountyRates reads `fips,name,rate` rows; name is informational only,
// the join goes through the FIPS code.
func (s *Seeder) seedCountyRates(ctx context.Context, countyRatesPath string) error {
	f, err := os.Open(countyRatesPath)
	if err != nil {
		return fmt.Errorf("failed to open county rates csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if _, err := reader.Read(); err != nil { // header
		return fmt.Errorf("failed to read county rates header: %w", err)
	}

	inserted := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read county rates csv: %w", err)
		}
		if len(record) < 3 {
			return fmt.Errorf("malformed county rates row: %v", record)
		}

		rate, err := decimal.NewFromString(record[2])
		if err != nil {
			return fmt.Errorf("invalid county rate %q for fips %s: %w", record[2], record[0], err)
		}

		err = s.db.WithContext(ctx).Exec(`
			INSERT INTO tax_rates (jurisdiction_id, rate_type, rate, valid_from, created_at)
			SELECT id, 'COUNTY', ?, ?, now()
			FROM geo_jurisdictions
			WHERE type = 'COUNTY' AND fips_code = ?`,
			rate, ratesValidFrom, record[0],
		).Error
		if err != nil {
			return fmt.Errorf("failed to seed county rate for fips %s: %w", record[0], err)
		}
		inserted++
	}

	log.Printf("Seeded %d county rates.", inserted)
	return nil
}
