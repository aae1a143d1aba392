package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("ALLABOLAG SCRAPER")
	b.PrintCenteredText("Resumable Financial Data Extraction Engine")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Msg("Application started")

	fmt.Printf("Configuration:\n")
	fmt.Printf("   - Web Interface: %s\n", serviceURL)
	fmt.Printf("   - Badger Path: %s\n", config.Storage.Badger.Path)
	fmt.Printf("   - Staging Dir: %s\n", config.Storage.StagingDir)

	logFilePath := ""
	if loggerWithPath, ok := interface{}(logger).(interface{ GetLogFilePath() string }); ok {
		logFilePath = loggerWithPath.GetLogFilePath()
		if logFilePath != "" {
			fmt.Printf("   - Log File: %s\n", logFilePath)
		}
	}
	fmt.Printf("\n")

	logger.Info().
		Str("log_file", logFilePath).
		Str("proxy_provider", activeProxyProvider(config)).
		Int("stage1_concurrency", config.RateLimiter.Stage1.Concurrent).
		Int("stage2_concurrency", config.RateLimiter.Stage2.Concurrent).
		Int("stage3_concurrency", config.RateLimiter.Stage3.Concurrent).
		Msg("Configuration loaded")

	printCapabilities(config, logger)
	fmt.Printf("\n")
}

func activeProxyProvider(config *Config) string {
	switch {
	case config.Proxy.VPN.Enabled:
		return "vpn"
	case config.Proxy.ProxyScrape.Enabled:
		return "proxyscrape"
	case config.Proxy.Oxylabs.Enabled:
		return "oxylabs"
	default:
		return "none"
	}
}

// printCapabilities displays the system capabilities
func printCapabilities(config *Config, logger arbor.ILogger) {
	fmt.Printf("Enabled Features:\n")

	provider := activeProxyProvider(config)
	fmt.Printf("   - Proxy gateway: %s\n", provider)
	fmt.Printf("   - Embedded Badger job registry + per-job staging stores\n")
	fmt.Printf("   - Adaptive rate limiting (stage1/stage2/stage3)\n")
	if config.RateLimiter.Stage3.NightMode != nil {
		fmt.Printf("   - Night mode window: %02d:00-%02d:00\n",
			config.RateLimiter.Stage3.NightMode.StartHour, config.RateLimiter.Stage3.NightMode.EndHour)
	}

	logger.Info().
		Str("proxy_provider", provider).
		Str("storage", "badger_badgerhold").
		Msg("System capabilities")
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("ALLABOLAG SCRAPER")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("Application shutting down")
}

// PrintColorizedMessage prints a message with specified color and logs through Arbor
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints a success message in green and logs it
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("[ok] %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints an error message in red and logs it
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("[error] %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints a warning message in yellow and logs it
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("[warn] %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints an info message in cyan and logs it
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("[info] %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
