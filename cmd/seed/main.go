package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

var (
	eventID     = flag.String("event", "E1", "Event to create seats for")
	sections    = flag.String("sections", "A,B", "Comma separated section names")
	rows        = flag.Int("rows", 20, "Rows per section")
	seatsPerRow = flag.Int("seats", 25, "Seats per row")
	dryRun      = flag.Bool("dry-run", false, "Show what would be generated without making changes")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	seats := generateLayout(*eventID, splitSections(*sections), *rows, *seatsPerRow)
	slog.Info("Generated seat layout", "event_id", *eventID, "total_seats", len(seats))

	if *dryRun {
		counts := map[string]int{}
		for _, s := range seats {
			counts[s.PriceTier]++
		}
		slog.Info("[DRY RUN] Would insert seats", "by_tier", counts)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	if err := repository.NewSeatRepository(db).CreateSeats(ctx, seats); err != nil {
		logger.Fatal("Failed to insert seats", "error", err)
	}
	slog.Info("Seats stored", "event_id", *eventID, "count", len(seats))

	if cfg.CatalogEnabled {
		if err := indexCatalog(ctx, cfg.Catalog, seats); err != nil {
			logger.Fatal("Failed to index catalog", "error", err)
		}
		slog.Info("Catalog indexed", "index", cfg.Catalog.Index, "count", len(seats))
	}

	slog.Info("Seeding completed successfully")
}

func indexCatalog(ctx context.Context, cfg external.CatalogConfig, seats []models.Seat) error {
	client, err := external.NewCatalogClient(cfg)
	if err != nil {
		return err
	}
	if err := client.EnsureIndex(ctx); err != nil {
		return err
	}
	return client.IndexSeats(ctx, seats, external.DefaultTierPrices)
}

// generateLayout builds a rectangular hall; the front rows of every section are the dearest
func generateLayout(eventID string, sections []string, rows, perRow int) []models.Seat {
	seats := make([]models.Seat, 0, len(sections)*rows*perRow)
	for _, section := range sections {
		for row := 1; row <= rows; row++ {
			tier := tierForRow(row)
			for n := 1; n <= perRow; n++ {
				seats = append(seats, models.Seat{
					ID:        fmt.Sprintf("%s-%s-%d-%d", eventID, section, row, n),
					EventID:   eventID,
					Section:   section,
					Row:       fmt.Sprintf("%d", row),
					Number:    n,
					PriceTier: tier,
					Status:    models.SeatAvailable,
				})
			}
		}
	}
	return seats
}

func tierForRow(row int) string {
	switch {
	case row <= 3:
		return "vip"
	case row <= 10:
		return "premium"
	default:
		return "standard"
	}
}

func splitSections(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
