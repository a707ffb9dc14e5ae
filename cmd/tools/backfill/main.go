// Command backfill runs a one-shot dense recompute of one calendar day's
// rollup rows, wrapping rollup.Engine.BackfillDayDense (§4.4 "Back-fill
// contract").
package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/adapter"
	"github.com/magnaline/productiontelemetry/internal/config"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/logging"
	"github.com/magnaline/productiontelemetry/internal/rollup"
	"github.com/magnaline/productiontelemetry/internal/store"
)

func main() {
	dateFlag := flag.String("date", "", "local date to backfill, YYYY-MM-DD (default: yesterday)")
	writeZero := flag.Bool("write-zero", true, "write hourly rows for stations that have no historian tag")
	chunkSize := flag.Int("chunk-size", 6, "rows per upsert batch while backfilling")
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

	date := time.Now().In(loc).Add(-24 * time.Hour)
	if *dateFlag != "" {
		parsed, err := time.ParseInLocation("2006-01-02", *dateFlag, loc)
		if err != nil {
			log.Fatal("invalid -date", zap.Error(err))
		}
		date = parsed
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
	liveReader := adapter.NewLiveValueReader(hist, nil)

	eng := rollup.New(cache, calendar, hist, liveReader, db, log, loc, cfg.WeekStartDOW, time.Now)

	log.Info("starting dense backfill", zap.String("date", date.Format("2006-01-02")))
	if err := eng.BackfillDayDense(ctx, date, *writeZero, *chunkSize); err != nil {
		log.Fatal("backfill failed", zap.Error(err))
	}
	log.Info("backfill complete")
}
