package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"mailbot/internal/ai"
	"mailbot/internal/calendar"
	"mailbot/internal/config"
	"mailbot/internal/credential"
	"mailbot/internal/gmail"
	"mailbot/internal/handler"
	"mailbot/internal/imap"
	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/notify"
	"mailbot/internal/repository"
	"mailbot/internal/repository/database"
	"mailbot/internal/repository/memory"
	"mailbot/internal/router"
	"mailbot/internal/service"
	"mailbot/internal/sse"
	"mailbot/internal/worker"
)

type repositories struct {
	messages repository.MessageRepository
	raw      repository.RawRepository
	tasks    repository.TaskRepository
	contacts repository.ContactRepository
	cursors  repository.CursorRepository
}

func main() {
	if len(os.Args) == 3 && os.Args[1] == "set-secret" {
		if err := storeSecret(os.Args[2]); err != nil {
			log.Fatal("Failed to store secret:", err)
		}
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal("Config validation failed:", err)
	}

	// Initialize logger
	appLogger := logger.New().WithLevel(logger.ParseLevel(cfg.LogLevel))

	// Initialize repositories (postgres, sqlite or in-memory)
	repos, db, err := openRepositories(cfg, appLogger)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	if db != nil {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Collaborators
	mailboxes, cal, err := openMailboxes(ctx, cfg, appLogger)
	if err != nil {
		log.Fatal("Failed to set up mailboxes:", err)
	}

	llm := ai.NewClient(cfg.AIProvider, cfg.AIBaseURL, cfg.AIModel, cfg.AIKey, appLogger)

	telegram := notify.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramAPIURL, appLogger)
	replies := notify.NewReplyQueue()
	listener := notify.NewListener(telegram, replies, cfg.TelegramChatID, appLogger)

	// Event hub for operator streams
	hub := sse.NewHub(appLogger)
	defer hub.Close()

	// Services
	session := service.NewSession()
	cursors := service.NewCursorManager(repos.cursors, repos.messages, appLogger)
	store := service.NewMessageStore(repos.raw, repos.messages, appLogger)

	classifier := service.NewClassifier(service.ClassifierConfig{
		Labels:        cfg.Labels,
		TopLabel:      cfg.TopPriorityLabel,
		SpamLabel:     cfg.SpamLabel,
		DeepThreshold: cfg.DeepThreshold,
		Attempts:      cfg.ClassifierRetries,
		ShallowTokens: cfg.ShallowMaxTokens,
		DeepTokens:    cfg.DeepMaxTokens,
		UserContext:   cfg.UserContext,
	}, llm, appLogger)

	profiler := service.NewContactProfiler(repos.contacts, llm, cfg.ClassifierRetries, appLogger)

	lookback := time.Duration(cfg.PlannerLookbackDays) * 24 * time.Hour
	reminderLead := time.Duration(cfg.ReminderLeadDays) * 24 * time.Hour

	planner := service.NewPlanner(service.PlannerConfig{
		TopLabel:             cfg.TopPriorityLabel,
		Threshold:            cfg.CalendarThreshold,
		Lookback:             lookback,
		ReminderLead:         reminderLead,
		EventDispatchLead:    cfg.EventDispatchLead,
		DefaultEventDuration: cfg.DefaultEventDuration,
		Timezone:             cfg.CalendarTimezone,
		Attempts:             cfg.ClassifierRetries,
		MaxTokens:            cfg.DeepMaxTokens,
	}, repos.messages, repos.tasks, llm, cal, telegram, hub, appLogger)

	dispatcher := service.NewDispatcher(repos.tasks, telegram, hub, appLogger)

	gate := service.NewGate(telegram, replies, repos.messages, cfg.ConfirmationTimeout, hub, appLogger)

	catalog := service.NewCatalog(service.CatalogDeps{
		Gate:                 gate,
		Notifier:             telegram,
		Calendar:             cal,
		Tasks:                repos.tasks,
		AskHuman:             cfg.AgentAlwaysAskHuman,
		Timezone:             cfg.CalendarTimezone,
		DefaultEventDuration: cfg.DefaultEventDuration,
		EventDispatchLead:    cfg.EventDispatchLead,
		ReminderLead:         reminderLead,
	})
	selector := service.NewLLMSelector(llm, cfg.ClassifierRetries, appLogger)
	executor := service.NewExecutor(catalog, selector, gate, cfg.AgentMaxSteps, appLogger)

	pipeline := service.NewPipeline(service.PipelineConfig{
		TopLabel:        cfg.TopPriorityLabel,
		ActionThreshold: cfg.ActionThreshold,
		AgentEnabled:    cfg.AgentEnabled,
		UpdateProfiles:  cfg.UpdateProfiles,
		SendAlerts:      cfg.SendAlerts,
	}, store, classifier, profiler, executor, telegram, hub, appLogger)

	pollLoop := worker.New(worker.Config{
		PollInterval:      cfg.PollInterval,
		PlanningInterval:  cfg.PlanningInterval,
		TopLabel:          cfg.TopPriorityLabel,
		CalendarThreshold: cfg.CalendarThreshold,
	}, mailboxes, session, cursors, store, pipeline, planner, dispatcher, appLogger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	opts := router.Options{
		OperatorToken: cfg.OperatorToken,
		WebhookSecret: cfg.WebhookSecret,
	}
	if cfg.TelegramWebhook {
		opts.Webhook = handler.NewWebhookHandler(listener, e.Logger)
	}
	router.SetupRoutes(e,
		handler.NewStatusHandler(session, pollLoop.Accounts),
		handler.NewRecordHandler(repos.messages, repos.tasks, session, e.Logger),
		handler.NewEventHandler(hub, e.Logger),
		opts,
	)

	// Exactly one producer feeds the reply queue.
	if !cfg.TelegramWebhook {
		go listener.Run(ctx)
	}

	// Start the poll loop in a separate goroutine
	go pollLoop.Start()

	go func() {
		appLogger.Info("Starting server on port", cfg.HTTPPort)
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Failed to start server:", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Failed to stop server:", err)
	}
	pollLoop.Stop()
}

// storeSecret reads one line from stdin into the OS keyring under key.
func storeSecret(key string) error {
	value, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty value for %s", key)
	}
	return credential.Set(key, value)
}

func openRepositories(cfg *config.Config, logger *logger.Logger) (*repositories, *sqlx.DB, error) {
	var driver, dsn string
	switch {
	case cfg.DatabaseURL != "":
		driver, dsn = database.DriverPostgres, cfg.DatabaseURL
	case cfg.SQLitePath != "":
		driver, dsn = database.DriverSQLite, cfg.SQLitePath
	default:
		logger.Info("Using in-memory repositories")
		return &repositories{
			messages: memory.NewInMemoryMessageRepository(),
			raw:      memory.NewInMemoryRawRepository(),
			tasks:    memory.NewInMemoryTaskRepository(),
			contacts: memory.NewInMemoryContactRepository(),
			cursors:  memory.NewInMemoryCursorRepository(),
		}, nil, nil
	}

	db, err := database.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using", driver, "repositories")
	return &repositories{
		messages: database.NewMessageRepository(db),
		raw:      database.NewRawRepository(db),
		tasks:    database.NewTaskRepository(db),
		contacts: database.NewContactRepository(db),
		cursors:  database.NewCursorRepository(db),
	}, db, nil
}

// openMailboxes builds one mail collaborator per account, in configuration
// order, and the calendar of CALENDAR_ACCOUNT.
func openMailboxes(ctx context.Context, cfg *config.Config, logger *logger.Logger) ([]worker.Mailbox, service.Calendar, error) {
	var cal service.Calendar = calendar.Disabled{}
	mailboxes := make([]worker.Mailbox, 0, len(cfg.Accounts))

	for _, a := range cfg.Accounts {
		account := model.Account{Email: a.Email, Provider: a.Provider, MinAlert: a.MinAlert}

		if a.Provider == "imap" {
			mailboxes = append(mailboxes, worker.Mailbox{Account: account, Client: imap.NewClient(a.Email, a.IMAP, logger)})
			continue
		}

		httpClient, err := gmail.NewHTTPClient(ctx, a.CredentialsFile, a.TokenFile, cfg.GoogleClientID, cfg.GoogleClientSecret, logger)
		if errors.Is(err, service.ErrAuthExpired) {
			logger.Warnf("Skipping %s until it is authorized: %v", a.Email, err)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("authorizing %s: %w", a.Email, err)
		}
		client, err := gmail.NewClient(ctx, httpClient, a.Email, logger)
		if err != nil {
			return nil, nil, err
		}
		mailboxes = append(mailboxes, worker.Mailbox{Account: account, Client: client})

		if a.Email == cfg.CalendarAccount {
			c, err := calendar.NewClient(ctx, httpClient, cfg.CalendarID, logger)
			if err != nil {
				return nil, nil, err
			}
			cal = c
		}
	}

	if len(mailboxes) == 0 {
		return nil, nil, fmt.Errorf("no usable account")
	}
	if _, disabled := cal.(calendar.Disabled); disabled {
		logger.Warn("No Google account for the calendar, events will have no calendar link")
	}
	return mailboxes, cal, nil
}
