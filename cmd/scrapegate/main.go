package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/apiclient"
	"scrapegate/internal/captcha"
	"scrapegate/internal/driver"
	"scrapegate/internal/proxypool"
	"scrapegate/internal/proxypool/source"
	"scrapegate/internal/ratelimit"
	"scrapegate/internal/shared/config"
	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
	"scrapegate/internal/signature"
	"scrapegate/internal/strategy"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	pageURL := flag.String("url", "", "Page URL to extract content from")
	apiPath := flag.String("api", "", "API path (with query) backing the page")
	pin := flag.String("pin", "", "Pin a single strategy (pure_api, api_direct, api_intercept, dom)")
	flag.Parse()

	if *pageURL == "" && *apiPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: scrapegate -url <page> [-api <path>] [-pin <strategy>]")
		os.Exit(2)
	}

	iniPath := filepath.Join(*configDir, "scrapegate.ini")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}
	if *pin != "" {
		cfg.StrategyConf.Pin = *pin
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector := antidetect.NewDetector()
	monitor := antidetect.NewSessionHealthMonitor(cfg.ClientConf.SessionCookie)
	client := apiclient.New(cfg.ClientConf, signature.New(), detector)
	limiter := ratelimit.New(cfg.RateLimitConf)

	var pool *proxypool.Pool
	if cfg.StrategyConf.UseProxyPool {
		var sources []source.Source
		if cfg.ProxyPoolConf.ProviderURL != "" {
			sources = append(sources, source.NewProviderSource(cfg.ProxyPoolConf.ProviderURL))
		}
		if cfg.ProxyPoolConf.FreeListURL != "" {
			sources = append(sources, source.NewFreeListSource(cfg.ProxyPoolConf.FreeListURL))
		}
		pool = proxypool.New(cfg.ProxyPoolConf, sources...)
	}

	solver := captcha.New(cfg.CaptchaConf)
	if balance, ok := solver.Balance(ctx); ok {
		logger.Info().Str("solver", solver.Name()).Float64("balance", balance).Msg("CAPTCHA solver ready.")
	}

	var drv driver.AutomationDriver
	if cfg.DriverConf.DevToolsURL != "" {
		cdp, err := driver.NewCDP(ctx, cfg.DriverConf)
		if err != nil {
			logger.Warn().Err(err).Msg("Browser unavailable, driver-backed strategies disabled.")
		} else {
			drv = cdp
			defer cdp.Close()
		}
	}

	orch := strategy.NewOrchestrator(cfg.StrategyConf, limiter, pool, solver, monitor,
		strategy.NewPureAPI(client),
		strategy.NewAPIDirect(client, drv, monitor),
		strategy.NewAPIIntercept(drv, detector, cfg.StrategyConf),
		strategy.NewDOM(drv, detector),
	)
	if err := orch.LoadState(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load session state.")
	}

	res, err := orch.Fetch(ctx, strategy.Request{
		PageURL: *pageURL,
		APIPath: *apiPath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Extraction failed.")
	}

	logger.Info().Str("source", string(res.Source)).Int("bytes", len(res.Body)).Msg("Extraction finished.")
	fmt.Println(string(res.Body))
}
