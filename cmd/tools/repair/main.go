// Command repair runs a one-shot target-repair pass, wrapping
// cycletime.Engine.RepairPass over rows the standing engine's debounce
// window left without a base target (§4.5).
package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/adapter"
	"github.com/magnaline/productiontelemetry/internal/config"
	"github.com/magnaline/productiontelemetry/internal/cycletime"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/logging"
	"github.com/magnaline/productiontelemetry/internal/store"
)

func main() {
	lookbackHours := flag.Int("lookback-hours", 72, "hourly rows to scan for missing targets")
	lookbackDays := flag.Int("lookback-days", 7, "shift rows to scan for missing targets")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	log, err := logging.New(false)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Fatal("invalid timezone", zap.Error(err))
	}

	ctx := context.Background()
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("store connect failed", zap.Error(err))
	}
	defer db.Close()

	series := historian.NewSQLSeries(db.Pool(), "")
	hist := historian.New(series)
	cache := config.NewCache(db, cfg.CacheTTL())
	calendar := config.NewCalendar(db, loc, cfg.WeekStartDOW, log)
	calendar.Refresh(ctx)
	fixtureReader := adapter.NewFixtureReader(hist, cache, nil)

	eng := cycletime.New(fixtureReader, calendar, hist, db, log, loc, time.Now)

	stations, err := cache.Stations(ctx)
	if err != nil {
		log.Fatal("station list failed", zap.Error(err))
	}
	lineByStation := make(map[string]string, len(stations))
	for _, st := range stations {
		lineByStation[st.StationID] = st.LineID
	}

	log.Info("starting repair pass", zap.Int("lookback_hours", *lookbackHours), zap.Int("lookback_days", *lookbackDays))
	eng.RepairPass(ctx, *lookbackHours, *lookbackDays, lineByStation)
	log.Info("repair pass complete")
}
