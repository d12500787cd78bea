// Command-line front end for the quote composition engine.
//
// Usage:
//
//	freightq <command> [options]
//
// Commands operate on the SQLite database named by the configuration file
// (FREIGHTQ_CONFIG, default config/freightq.yaml) or by FREIGHTQ_SQLITE_PATH.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"freightq/internal/audit"
	"freightq/internal/config"
	"freightq/internal/domain"
	"freightq/internal/draft"
	"freightq/internal/pricing"
	"freightq/internal/ranking"
	"freightq/internal/report"
	"freightq/internal/store"
	"freightq/internal/util"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: freightq <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  show       Show every option of a quotation version\n")
		fmt.Fprintf(os.Stderr, "  rank       Rank a version's options by cost, transit, and reliability\n")
		fmt.Fprintf(os.Stderr, "  seed       Create a demo quote for trying the other commands\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("freightq %s\n", version)

	case "show":
		runShow(os.Args[2:])

	case "rank":
		runRank(os.Args[2:])

	case "seed":
		runSeed(os.Args[2:])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfgPath := "config/freightq.yaml"
	if p := os.Getenv("FREIGHTQ_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default()
		}
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func openStore(cfg *config.Config) *store.SQLiteStore {
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	return st
}

// loadDraft hydrates a read-only draft of the version through the session.
func loadDraft(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, versionID string) *domain.Draft {
	s := draft.NewSession(draft.Deps{
		Store: st,
		Log:   util.NewLogger(cfg.Logging.Level, cfg.Logging.Format),
	})
	defer s.Close()
	if err := s.Load(ctx, "", "", versionID); err != nil {
		log.Fatalf("failed to load version %s: %v", versionID, err)
	}
	return s.Draft()
}

func runShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	versionID := fs.String("version", "", "quotation version id")
	fs.Parse(args)
	if *versionID == "" {
		log.Fatal("show: -version is required")
	}

	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	d := loadDraft(context.Background(), cfg, st, *versionID)
	if len(d.Options) == 0 {
		fmt.Printf("version %s has no options\n", *versionID)
		return
	}
	for _, o := range d.Options {
		o.Totals = pricing.ComputeTotals(o)
		fmt.Print(report.OptionDetail(o))
		fmt.Println()
	}
}

func runRank(args []string) {
	fs := flag.NewFlagSet("rank", flag.ExitOnError)
	versionID := fs.String("version", "", "quotation version id")
	fs.Parse(args)
	if *versionID == "" {
		log.Fatal("rank: -version is required")
	}

	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	d := loadDraft(context.Background(), cfg, st, *versionID)
	for _, o := range d.Options {
		o.Totals = pricing.ComputeTotals(o)
	}
	fmt.Print(report.OptionTable(d.Options, d.SelectedOptionID, ranking.Criteria{
		CostWeight:        cfg.Ranking.CostWeight,
		TransitWeight:     cfg.Ranking.TransitWeight,
		ReliabilityWeight: cfg.Ranking.ReliabilityWeight,
	}))
}

// runSeed composes and saves a small two-option quote through the full
// authoring path, so show and rank have something to work with.
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	versionID := fs.String("version", "demo-version", "quotation version id to create")
	tenantID := fs.String("tenant", "demo-tenant", "tenant id")
	fs.Parse(args)

	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	s := draft.NewSession(draft.Deps{
		Store:      st,
		AutoMargin: cfg.Pricing.AutoMargin,
		Debounce:   time.Duration(cfg.Pricing.DebounceMs) * time.Millisecond,
		Trail:      audit.NewTrail(st, logger),
		Log:        logger,
	})
	defer s.Close()
	s.NewQuote(*tenantID, *versionID)

	ocean, err := s.AddOption("Ocean Direct", "USD")
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	oceanTransit := 30
	ocean.TransitDays = &oceanTransit
	ocean.CarrierName = "Maersk"
	ocean.Reliability = 8

	oceanLeg := &domain.Leg{Mode: domain.ModeOcean, Origin: "Shanghai", Destination: "Rotterdam"}
	must(s.AddLeg(ocean.ID, oceanLeg))
	must(s.AddCharge(ocean.ID, oceanLeg.ID, &domain.ChargePair{
		CategoryID: "ocean_freight", BasisID: "per_container", CurrencyID: "USD", Unit: "container",
		Buy:  &domain.ChargeSideAmount{Quantity: dec("2"), Rate: dec("600"), Amount: dec("1200")},
		Sell: &domain.ChargeSideAmount{Quantity: dec("2"), Rate: dec("750"), Amount: dec("1500")},
	}))
	must(s.AddCharge(ocean.ID, "", &domain.ChargePair{
		CategoryID: "documentation", BasisID: "per_shipment", CurrencyID: "USD", Unit: "shipment",
		Sell: &domain.ChargeSideAmount{Quantity: dec("1"), Rate: dec("50"), Amount: dec("50")},
	}))

	air, err := s.AddOption("Air Express", "USD")
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	airTransit := 5
	air.TransitDays = &airTransit
	air.CarrierName = "Lufthansa"
	air.Reliability = 9

	airLeg := &domain.Leg{Mode: domain.ModeAir, Origin: "PVG", Destination: "AMS",
		ActualWeightKg: dec("500"), VolumeM3: dec("4")}
	must(s.AddLeg(air.ID, airLeg))
	must(s.AddCharge(air.ID, airLeg.ID, &domain.ChargePair{
		CategoryID: "air_freight", BasisID: "per_kg", CurrencyID: "USD", Unit: "kg",
		Buy:  &domain.ChargeSideAmount{Quantity: dec("668"), Rate: dec("4"), Amount: dec("2672")},
		Sell: &domain.ChargeSideAmount{Quantity: dec("668"), Rate: dec("5"), Amount: dec("3340")},
	}))

	if err := s.Save(context.Background()); err != nil {
		log.Fatalf("seed: save failed: %v", err)
	}
	fmt.Printf("seeded quote %s (version %s)\n", s.Draft().QuoteID, *versionID)
}

func must(err error) {
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}
