package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
	"github.com/haneum/bandcrawl/internal/services/browser"
	"github.com/haneum/bandcrawl/internal/services/crawler"
	"github.com/haneum/bandcrawl/internal/services/extraction"
	"github.com/haneum/bandcrawl/internal/services/llm"
	"github.com/haneum/bandcrawl/internal/services/scheduler"
	"github.com/haneum/bandcrawl/internal/storage/badger"
	"github.com/haneum/bandcrawl/internal/tasks"
)

var (
	configPath  = flag.String("config", "", "Configuration file path (default: bandcrawl.toml if present)")
	bandID      = flag.String("band", "", "Band ID for a one-shot crawl")
	postID      = flag.String("post", "", "Post ID (required for comment crawls)")
	crawlKind   = flag.String("kind", "posts", "Crawl kind: posts or comments")
	accountID   = flag.String("account", "", "Account ID for the one-shot crawl")
	email       = flag.String("email", "", "Login email (password via BANDCRAWL_PASSWORD)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Bandcrawl version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup order: config, logger, banner, storage, services
	path := *configPath
	if path == "" {
		if _, err := os.Stat("bandcrawl.toml"); err == nil {
			path = "bandcrawl.toml"
		}
	}

	config, err := common.LoadFromFile(path)
	if err != nil {
		arbor.NewLogger().Fatal().Str("path", path).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Msg("Configuration loaded")

	storage, err := badger.NewManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
		os.Exit(1)
	}
	defer storage.Close()

	registry := tasks.NewRegistry(logger)

	var extractor interfaces.Extractor
	if config.Claude.APIKey != "" {
		claude, err := llm.NewClaudeService(&config.Claude, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize Claude service")
			os.Exit(1)
		}
		defer claude.Close()
		extractor = extraction.NewService(claude, logger)
	} else {
		logger.Warn().Msg("No Claude API key configured, product extraction disabled")
	}

	orchestrator := crawler.NewOrchestrator(
		config, logger, registry,
		storage.SessionStore(), storage.PostStore(), storage.ProductStore(),
		extractor,
	)

	service := crawler.NewService(config, logger, registry, orchestrator, func() interfaces.BrowserDriver {
		return browser.NewDriver(config.Band, config.Crawler, logger)
	})

	if *bandID != "" {
		os.Exit(runOneShot(service, logger))
	}

	if !config.Scheduler.Enabled {
		logger.Fatal().Msg("Nothing to do: pass -band for a one-shot crawl or enable the scheduler")
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(config.Scheduler, service, envCredentials, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
		os.Exit(1)
	}

	logger.Info().Msg("Bandcrawl running - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")
	sched.Stop()
	service.Wait()
	logger.Info().Msg("Stopped")
}

// runOneShot submits a single crawl from the command line and polls it to a
// terminal status
func runOneShot(service *crawler.Service, logger arbor.ILogger) int {
	kind := models.TaskKindPostCrawl
	if *crawlKind == "comments" {
		kind = models.TaskKindCommentCrawl
	}

	creds := models.Credentials{
		AccountID: *accountID,
		Email:     *email,
		Password:  os.Getenv("BANDCRAWL_PASSWORD"),
	}
	if creds.AccountID == "" {
		creds.AccountID = creds.Email
	}

	taskID, err := service.StartCrawl(kind, creds, models.CrawlTarget{BandID: *bandID, PostID: *postID})
	if err != nil {
		logger.Error().Err(err).Msg("Crawl submission failed")
		return 1
	}

	for {
		time.Sleep(2 * time.Second)

		task, ok := service.GetTaskStatus(taskID)
		if !ok {
			logger.Error().Str("task_id", taskID).Msg("Task disappeared from registry")
			return 1
		}

		logger.Info().
			Str("status", string(task.Status)).
			Int("progress", task.Progress).
			Msg(task.Message)

		if task.IsTerminal() {
			if task.Status == models.TaskStatusFailed {
				logger.Error().Str("reason", task.Error).Msg("Crawl failed")
				return 1
			}
			logger.Info().
				Int("results", len(task.ResultRefs)).
				Int("failed_items", task.FailedItems).
				Msg("Crawl completed")
			return 0
		}
	}
}

// envCredentials resolves scheduled-target credentials from the environment:
// BANDCRAWL_ACCOUNT_<ID>_EMAIL and BANDCRAWL_ACCOUNT_<ID>_PASSWORD.
func envCredentials(accountID string) (models.Credentials, bool) {
	key := strings.ToUpper(strings.ReplaceAll(accountID, "-", "_"))
	email := os.Getenv("BANDCRAWL_ACCOUNT_" + key + "_EMAIL")
	password := os.Getenv("BANDCRAWL_ACCOUNT_" + key + "_PASSWORD")
	if email == "" {
		return models.Credentials{}, false
	}
	return models.Credentials{AccountID: accountID, Email: email, Password: password}, true
}
