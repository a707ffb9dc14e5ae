// Command engine is the production telemetry service: it wires the
// durable store, the historian, the broker, the event-driven tag-change
// publisher, and a scheduler running the periodic tasks (calendar refresh,
// rollup, cycletime, overcycle, cycletime repair, production publish) and
// runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/adapter"
	"github.com/magnaline/productiontelemetry/internal/broker"
	"github.com/magnaline/productiontelemetry/internal/config"
	"github.com/magnaline/productiontelemetry/internal/cycletime"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/eventbus"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/logging"
	"github.com/magnaline/productiontelemetry/internal/overcycle"
	"github.com/magnaline/productiontelemetry/internal/production"
	"github.com/magnaline/productiontelemetry/internal/rollup"
	"github.com/magnaline/productiontelemetry/internal/scheduler"
	"github.com/magnaline/productiontelemetry/internal/store"
	"github.com/magnaline/productiontelemetry/internal/tagpublish"
)

func main() {
	// 1. Config
	cfg, err := config.Load(os.Getenv("ENGINE_CONFIG_DIR"))
	if err != nil {
		panic(err)
	}
	log, err := logging.New(os.Getenv("ENGINE_ENV") == "production")
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("production telemetry engine starting",
		zap.String("timezone", cfg.TimeZone), zap.String("metrics_addr", cfg.MetricsAddr))

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Fatal("invalid ENGINE_TIME_ZONE", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Dependencies
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("store connect failed", zap.Error(err))
	}
	defer db.Close()

	series := historian.NewSQLSeries(db.Pool(), "")
	hist := historian.New(series)

	cache := config.NewCache(db, cfg.CacheTTL())
	calendar := config.NewCalendar(db, loc, cfg.WeekStartDOW, logging.Component(log, "calendar"))
	calendar.Refresh(ctx)

	hierarchy := adapter.NewHierarchyResolver(cache, db)
	serverName := adapter.NewStaticServerNameResolver(cfg.BrokerName)
	mq, err := broker.New(cfg.BrokerURL, cfg.BrokerClientID, serverName, logging.Component(log, "broker"))
	if err != nil {
		log.Fatal("broker connect failed", zap.Error(err))
	}
	defer mq.Close()
	mq.SetTopicBuilder(broker.NewTopicBuilder(hierarchy))

	bus := eventbus.New()
	defer bus.Close()
	publisher := tagpublish.New(mq, db, logging.Component(log, "tagpublish"))
	statusBuilder := adapter.NewStatusBuilder(hist, cache, nil)
	startTagDispatch(ctx, bus, publisher, cache, statusBuilder)

	liveReader := adapter.NewLiveValueReader(hist, nil)
	rollupEngine := rollup.New(cache, calendar, hist, liveReader, db, logging.Component(log, "rollup"), loc, cfg.WeekStartDOW, time.Now)

	fixtureReader := adapter.NewFixtureReader(hist, cache, nil)
	cycletimeEngine := cycletime.New(fixtureReader, calendar, hist, db, logging.Component(log, "cycletime"), loc, time.Now)

	overcycleEngine := overcycle.New(series, calendar, db, mq, logging.Component(log, "overcycle"), loc)

	productionEngine := production.New(db, calendar, mq, logging.Component(log, "production"), loc, cfg.PublishLookbackHrs, cfg.PublishCatchupHrs)

	// 3. Bootstrap today's rollup rows so the UI has data immediately
	// after a restart (§4.4 "Back-fill contract").
	if err := rollupEngine.BootstrapDay(ctx, time.Now().In(loc)); err != nil {
		log.Warn("rollup bootstrap failed", zap.Error(err))
	}

	// 4. Run
	reg := prometheus.NewRegistry()
	sched := scheduler.New(logging.Component(log, "scheduler"), reg)

	sched.Add(scheduler.Task{Name: "calendar_refresh", Interval: time.Duration(cfg.ShiftCacheSec) * time.Second,
		Run: func(ctx context.Context) { calendar.Refresh(ctx) }})

	sched.Add(scheduler.Task{Name: "rollup_tick", Interval: 5 * time.Second,
		Run: func(ctx context.Context) { rollupEngine.Tick(ctx) }})

	sched.Add(scheduler.Task{Name: "cycletime_tick", Interval: 5 * time.Second,
		Run: func(ctx context.Context) { runCycletimeTick(ctx, cache, cycletimeEngine) }})

	sched.Add(scheduler.Task{Name: "overcycle_tick", Interval: 10 * time.Second,
		Run: func(ctx context.Context) { runOvercycleTick(ctx, cache, overcycleEngine) }})

	sched.Add(scheduler.Task{Name: "cycletime_repair", Interval: time.Hour,
		Run: func(ctx context.Context) { runRepairPass(ctx, cache, cycletimeEngine, cfg) }})

	sched.Add(scheduler.Task{Name: "production_publish", Interval: 30 * time.Second,
		Run: func(ctx context.Context) { productionEngine.Tick(ctx, time.Now()) }})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	go sched.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func runCycletimeTick(ctx context.Context, cache *config.Cache, eng *cycletime.Engine) {
	stations, err := cache.Stations(ctx)
	if err != nil {
		return
	}
	parts := make(map[string][]domain.PartCT, len(stations))
	for _, st := range stations {
		p, err := cache.PartCT(ctx, st.StationID)
		if err != nil {
			continue
		}
		parts[st.StationID] = p
	}
	eng.Tick(ctx, stations, parts)
}

func runOvercycleTick(ctx context.Context, cache *config.Cache, eng *overcycle.Engine) {
	stations, err := cache.Stations(ctx)
	if err != nil {
		return
	}
	byLine := map[string][]domain.Station{}
	for _, st := range stations {
		byLine[st.LineID] = append(byLine[st.LineID], st)
	}
	lines := make([]string, 0, len(byLine))
	for line := range byLine {
		lines = append(lines, line)
	}
	eng.Tick(ctx, lines, byLine, time.Now())
}

func runRepairPass(ctx context.Context, cache *config.Cache, eng *cycletime.Engine, cfg *config.Settings) {
	stations, err := cache.Stations(ctx)
	if err != nil {
		return
	}
	lineByStation := make(map[string]string, len(stations))
	for _, st := range stations {
		lineByStation[st.StationID] = st.LineID
	}
	eng.RepairPass(ctx, cfg.HourlyLookbackHrs, cfg.HourlyCatchupHrs/24+1, lineByStation)
}

// startTagDispatch wires the tag-change event bus to the publisher's
// coalescers. The live OPC tag-change subscription that feeds this bus is
// out of scope (§1 Non-goals); this wiring is the seam a future listener
// attaches to.
func startTagDispatch(ctx context.Context, bus *eventbus.Bus, publisher *tagpublish.Publisher, cache *config.Cache, statusBuilder *adapter.StatusBuilder) {
	statusCh := make(chan eventbus.TagEvent, 64)
	bus.Subscribe("status", statusCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-statusCh:
				topic, _ := evt.Data.(string)
				stationID := evt.StationID
				publisher.NotifyStatusChange(ctx, topic, func() tagpublish.StatusPayload {
					st, ok, err := cache.StationByID(ctx, stationID)
					if err != nil || !ok {
						return tagpublish.StatusPayload{Version: 1, Timestamp: time.Now().UTC().Format(time.RFC3339)}
					}
					return statusBuilder.Build(ctx, st)
				})
			}
		}
	}()
}
