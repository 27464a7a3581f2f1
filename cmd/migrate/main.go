package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"flock/internal/pkg/logger"
	"flock/internal/platform/config"
	"flock/internal/platform/database"
	"flock/internal/platform/repositories"
)

func main() {
	var (
		target     = flag.String("target", "global", "Migration target: global or tenant")
		orgSlug    = flag.String("org", "", "Organization slug (tenant target; empty means all)")
		configPath = flag.String("config", "configs/config.yaml", "Path to config file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to global DB")
	}
	defer globalDB.Close()

	switch *target {
	case "global":
		if err := database.InitGlobalSchema(globalDB); err != nil {
			log.Fatal().Err(err).Msg("Global migration failed")
		}
		log.Info().Msg("Global schema applied")

	case "tenant":
		orgs, err := selectOrgs(globalDB, *orgSlug)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve organizations")
		}
		if len(orgs) == 0 {
			log.Warn().Msg("No organizations to migrate")
			return
		}
		for _, dbPath := range orgs {
			if err := migrateTenant(dbPath); err != nil {
				log.Fatal().Err(err).Str("db", dbPath).Msg("Tenant migration failed")
			}
			log.Info().Str("db", dbPath).Msg("Tenant schema applied")
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown target %q (want global or tenant)\n", *target)
		os.Exit(1)
	}
}

func selectOrgs(globalDB *sql.DB, slug string) ([]string, error) {
	orgRepo := repositories.NewOrganizationRepository(globalDB)

	if slug != "" {
		org, err := orgRepo.GetBySlug(slug)
		if err != nil {
			return nil, err
		}
		if org == nil {
			return nil, fmt.Errorf("organization %q not found", slug)
		}
		return []string{org.DBFilePath}, nil
	}

	orgs, err := orgRepo.List()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(orgs))
	for _, org := range orgs {
		paths = append(paths, org.DBFilePath)
	}
	return paths, nil
}

func migrateTenant(dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return err
	}
	defer db.Close()

	return database.InitTenantSchema(db)
}
