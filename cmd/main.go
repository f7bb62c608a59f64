package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cryptocompare-telegram-bot/config"
	"cryptocompare-telegram-bot/internal/alert"
	"cryptocompare-telegram-bot/internal/cache"
	"cryptocompare-telegram-bot/internal/chart"
	"cryptocompare-telegram-bot/internal/commands"
	"cryptocompare-telegram-bot/internal/cryptocompare"
	"cryptocompare-telegram-bot/internal/database"
	"cryptocompare-telegram-bot/internal/market"
	"cryptocompare-telegram-bot/internal/metrics"
	"cryptocompare-telegram-bot/internal/price"
	"cryptocompare-telegram-bot/internal/ratelimit"
	"cryptocompare-telegram-bot/internal/telegram"
	"cryptocompare-telegram-bot/internal/upstream"
	"cryptocompare-telegram-bot/lib/translation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const metricsSaveInterval = 5 * time.Minute

func init() {
	config.InitConfig()
	setupLogging()
}

func main() {
	translation.Configure("locales", config.GetString("lang"))
	log.Infof("Using language %q", translation.GetLanguage())

	store, err := database.Open(config.GetString("store_driver"), config.GetString("db_path"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	botMetrics := metrics.NewBotMetrics(prometheus.DefaultRegisterer)
	if err := botMetrics.Load(store); err != nil {
		log.WithError(err).Error("could not restore metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alerts := alert.NewStore(store)
	if err := alerts.Load(ctx); err != nil {
		log.Fatalf("Failed to load alerts: %v", err)
	}

	baseURL := config.GetString("cc_base_url")

	policy := upstream.DefaultPolicy()
	policy.MaxRetries = config.GetInt("retry_total")
	policy.BaseDelay = config.GetDuration("retry_backoff")
	policy.MaxDelay = config.GetDuration("retry_backoff_max")

	httpClient := upstream.New(config.GetDuration("http_timeout"))
	httpClient.Mount(baseURL, policy)

	limiter := ratelimit.ForEndpoint(baseURL, ratelimit.Config{
		Count:    config.GetInt("ratelimit_count"),
		Period:   config.GetSeconds("ratelimit_period"),
		Blocking: config.GetBool("ratelimit_blocking"),
		MaxWait:  config.GetDuration("ratelimit_max_wait"),
	}, ratelimit.SystemClock)

	client := cryptocompare.NewClient(cryptocompare.Config{
		BaseURL:   baseURL,
		APIKey:    config.GetString("cc_api_key"),
		Pages:     config.GetInt("catalog_pages"),
		PageDelay: config.GetDuration("catalog_page_delay"),
	}, httpClient, limiter)

	renderer := chart.NewRenderer(
		chart.NewBinanceSource(config.GetString("binance_api_key"), config.GetString("binance_secret_key")),
		chart.NewPaprikaSource(config.GetString("paprika_api_key")),
	)

	catalog := cache.NewCatalogCache(client, config.GetDuration("catalog_refresh"))
	prices := cache.NewPriceCache(client, config.GetDuration("price_ttl"), config.GetDuration("price_stale_grace"))
	charts := cache.NewChartCache(renderer, config.GetDuration("chart_tolerance"))

	repo := market.New(market.Config{
		QuoteSymbols: config.GetSymbols("tsyms"),
		TopCount:     config.GetInt("top_count"),
		TopTTL:       config.GetDuration("top_ttl"),
	}, catalog, prices, charts, client, alerts)

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:          config.GetString("telegram_bot_token"),
		Debug:          config.GetBool("debug"),
		UpdatesTimeout: 60,
	})
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	handler := commands.NewHandler(commands.Config{
		DefaultCoin: config.GetString("default_coin"),
		DefaultFiat: config.GetString("default_fiat"),
	}, repo, bot)

	evaluator := alert.NewEvaluator(alerts, prices, repo, handler)
	updater := price.NewUpdater(repo, evaluator, charts, config.GetDuration("alert_interval"))

	go updater.Run(ctx)
	go bot.Run(ctx, handler, botMetrics)

	go func() {
		ticker := time.NewTicker(metricsSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := botMetrics.Save(store); err != nil {
					log.WithError(err).Error("could not save metrics")
				}
			}
		}
	}()

	server := metricsAndHealthServer(config.GetInt("metrics_port"))
	go func() {
		log.Infof("Launching metrics and health endpoint on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start metrics and health server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics server shutdown")
	}
	if err := botMetrics.Save(store); err != nil {
		log.WithError(err).Error("could not save metrics")
	}
	log.Info("Metrics saved, shutting down...")
}

func setupLogging() {
	log.SetLevel(log.ErrorLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	if path := strings.TrimSpace(config.GetString("log_file")); path != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}))
	}
	log.Debug("Starting telegram bot...")
}

func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func metricsAndHealthServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthCheckHandler)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
