package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/api"
	"github.com/BTreeMap/AssistPipe/internal/calendar"
	"github.com/BTreeMap/AssistPipe/internal/contacts"
	"github.com/BTreeMap/AssistPipe/internal/dialogue"
	"github.com/BTreeMap/AssistPipe/internal/genai"
	"github.com/BTreeMap/AssistPipe/internal/googleapi"
	"github.com/BTreeMap/AssistPipe/internal/lockfile"
	"github.com/BTreeMap/AssistPipe/internal/mail"
	"github.com/BTreeMap/AssistPipe/internal/messaging"
	"github.com/BTreeMap/AssistPipe/internal/nlp"
	"github.com/BTreeMap/AssistPipe/internal/scheduler"
	"github.com/BTreeMap/AssistPipe/internal/store"
	"github.com/BTreeMap/AssistPipe/internal/tender"
	"github.com/BTreeMap/AssistPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/AssistPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AssistPipe state data
	DefaultStateDir = "/var/lib/assistpipe"
	// DefaultWhatsAppDBFileName is the default SQLite database for whatsmeow session state
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAppDBFileName is the default SQLite database for application state
	DefaultAppDBFileName = "assistpipe.db"
	// DefaultReminderCron fires the tender reminder job every morning at 09:00
	DefaultReminderCron = "0 9 * * *"
	// DefaultTimeZone is the zone dates and times in messages are interpreted in
	DefaultTimeZone = "Asia/Kolkata"
	// DefaultBackend selects the messaging transport
	DefaultBackend = "twilio"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping AssistPipe",
		"backend", *flags.backend,
		"state_dir", *flags.stateDir,
		"api_addr", *flags.apiAddr)
	if err := run(flags); err != nil {
		slog.Error("AssistPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AssistPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	OpenAIKey        string
	APIAddr          string
	Backend          string
	GoogleCreds      string
	CalendarID       string
	GoogleSubject    string
	MailFrom         string
	TimeZone         string
	ReminderCron     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	whatsappDBDSN *string
	appDBDSN      *string
	openaiKey     *string
	apiAddr       *string
	backend       *string
	googleCreds   *string
	calendarID    *string
	googleSubject *string
	mailFrom      *string
	timeZone      *string
	reminderCron  *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("ASSISTPIPE_STATE_DIR"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		Backend:          os.Getenv("MESSAGING_BACKEND"),
		GoogleCreds:      os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		CalendarID:       os.Getenv("GOOGLE_CALENDAR_ID"),
		GoogleSubject:    os.Getenv("GOOGLE_IMPERSONATE_SUBJECT"),
		MailFrom:         os.Getenv("GMAIL_FROM"),
		TimeZone:         os.Getenv("TIME_ZONE"),
		ReminderCron:     os.Getenv("REMINDER_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ASSISTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Legacy DATABASE_URL still works for the application store
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
		if config.ApplicationDBDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN")
		}
	}

	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No application DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.Backend == "" {
		config.Backend = DefaultBackend
	}
	if config.TimeZone == "" {
		config.TimeZone = DefaultTimeZone
	}
	if config.ReminderCron == "" {
		config.ReminderCron = DefaultReminderCron
	}

	slog.Debug("environment variables loaded",
		"ASSISTPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GOOGLE_CREDENTIALS_FILE_SET", config.GoogleCreds != "",
		"MESSAGING_BACKEND", config.Backend,
		"API_ADDR", config.APIAddr,
		"TIME_ZONE", config.TimeZone,
		"REMINDER_SCHEDULE", config.ReminderCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code (whatsmeow backend)"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code (whatsmeow backend)"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for AssistPipe data (overrides $ASSISTPIPE_STATE_DIR)"),
		whatsappDBDSN: flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for whatsmeow session state (overrides $WHATSAPP_DB_DSN)"),
		appDBDSN:      flag.String("db-dsn", config.ApplicationDBDSN, "database DSN for application state (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:       flag.String("backend", config.Backend, "messaging backend: twilio or whatsmeow (overrides $MESSAGING_BACKEND)"),
		googleCreds:   flag.String("google-credentials", config.GoogleCreds, "path to Google service account key (overrides $GOOGLE_CREDENTIALS_FILE)"),
		calendarID:    flag.String("calendar-id", config.CalendarID, "Google calendar ID (overrides $GOOGLE_CALENDAR_ID)"),
		googleSubject: flag.String("google-subject", config.GoogleSubject, "user to impersonate for domain-wide delegation (overrides $GOOGLE_IMPERSONATE_SUBJECT)"),
		mailFrom:      flag.String("mail-from", config.MailFrom, "From address for outgoing mail (overrides $GMAIL_FROM)"),
		timeZone:      flag.String("time-zone", config.TimeZone, "IANA time zone for message dates (overrides $TIME_ZONE)"),
		reminderCron:  flag.String("reminder-cron", config.ReminderCron, "cron schedule for tender reminders (overrides $REMINDER_SCHEDULE)"),
	}

	flag.Parse()

	// Move the default database files along with a changed state directory
	if *flags.stateDir != config.StateDir {
		if *flags.whatsappDBDSN == config.WhatsAppDBDSN {
			*flags.whatsappDBDSN = "file:" + filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
			slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.appDBDSN == config.ApplicationDBDSN {
			*flags.appDBDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
			slog.Debug("Updated application DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.whatsappDBDSN, *flags.appDBDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := dsn
		if after, ok := trimFileScheme(path); ok {
			path = after
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// trimFileScheme strips a "file:" prefix and query parameters from a SQLite DSN.
func trimFileScheme(dsn string) (string, bool) {
	const prefix = "file:"
	if len(dsn) < len(prefix) || dsn[:len(prefix)] != prefix {
		return dsn, false
	}
	path := dsn[len(prefix):]
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			path = path[:i]
			break
		}
	}
	return path, true
}

// buildStore opens the application store matching the DSN type.
func buildStore(dsn string) (store.Store, error) {
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildWhatsAppOptions constructs whatsmeow configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDBDSN))
	}
	return waOpts
}

// run wires every component together and serves until interrupted.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(*flags.timeZone)
	if err != nil {
		return fmt.Errorf("load time zone %s: %w", *flags.timeZone, err)
	}

	st, err := buildStore(*flags.appDBDSN)
	if err != nil {
		return fmt.Errorf("open application store: %w", err)
	}
	defer st.Close()

	// Intent recognition falls back to keyword matching without an API key.
	var recognizerOpts []nlp.Option
	if *flags.openaiKey != "" {
		llm, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return fmt.Errorf("create GenAI client: %w", err)
		}
		recognizerOpts = append(recognizerOpts, nlp.WithLLM(llm))
	} else {
		slog.Warn("No OpenAI API key configured, using keyword-based intent recognition")
	}
	recognizer := nlp.NewRecognizer(recognizerOpts...)
	extractor := nlp.NewExtractor()

	// Calendar, contacts and mail are only available with Google credentials.
	var (
		calSvc    calendar.Service
		directory contacts.Directory
		mailer    mail.Sender
	)
	if *flags.googleCreds != "" {
		googleOpts := []googleapi.Option{
			googleapi.WithCredentialsFile(*flags.googleCreds),
			googleapi.WithScopes(calendar.ScopeCalendar, contacts.ScopeContacts, mail.ScopeGmailSend),
		}
		if *flags.googleSubject != "" {
			googleOpts = append(googleOpts, googleapi.WithSubject(*flags.googleSubject))
		}
		googleClient, err := googleapi.NewClient(googleOpts...)
		if err != nil {
			return fmt.Errorf("create Google API client: %w", err)
		}

		calOpts := []calendar.Option{calendar.WithClient(googleClient)}
		if *flags.calendarID != "" {
			calOpts = append(calOpts, calendar.WithCalendarID(*flags.calendarID))
		}
		calSvc, err = calendar.NewGoogleService(calOpts...)
		if err != nil {
			return fmt.Errorf("create calendar service: %w", err)
		}
		directory, err = contacts.NewGoogleDirectory(contacts.WithClient(googleClient))
		if err != nil {
			return fmt.Errorf("create contacts directory: %w", err)
		}
		mailer, err = mail.NewGmailSender(mail.WithClient(googleClient), mail.WithFrom(*flags.mailFrom))
		if err != nil {
			return fmt.Errorf("create mail sender: %w", err)
		}
	} else {
		slog.Warn("No Google credentials configured, calendar, contacts and mail are disabled")
	}

	resolver := contacts.NewResolver(directory, st)
	tenders := tender.NewProcessor(calSvc, st)

	// Messaging transport.
	var (
		msgService messaging.Service
		media      dialogue.MediaFetcher
		emitter    api.ResponseEmitter
	)
	switch *flags.backend {
	case "twilio":
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return fmt.Errorf("create Twilio client: %w", err)
		}
		twService := messaging.NewTwilioService(twClient)
		msgService = twService
		media = twClient
		emitter = twService
	case "whatsmeow":
		waClient, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("create whatsmeow client: %w", err)
		}
		msgService = messaging.NewWhatsAppService(waClient)
	default:
		return fmt.Errorf("unknown messaging backend %q", *flags.backend)
	}

	engineOpts := []dialogue.Option{
		dialogue.WithStore(st),
		dialogue.WithMessenger(msgService),
		dialogue.WithRecognizer(recognizer),
		dialogue.WithExtractor(extractor),
		dialogue.WithContacts(resolver),
		dialogue.WithTenders(tenders),
		dialogue.WithLocation(loc),
	}
	if calSvc != nil {
		engineOpts = append(engineOpts, dialogue.WithCalendar(calSvc))
	}
	if mailer != nil {
		engineOpts = append(engineOpts, dialogue.WithMail(mailer))
	}
	if media != nil {
		engineOpts = append(engineOpts, dialogue.WithMedia(media))
	}
	engine, err := dialogue.NewEngine(engineOpts...)
	if err != nil {
		return fmt.Errorf("create dialogue engine: %w", err)
	}

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer msgService.Stop()

	dispatcher := messaging.NewDispatcher(msgService, engine)
	dispatcher.Start(ctx)
	defer dispatcher.Wait()

	notifier := tender.NewNotifier(st, msgService, tender.WithLocation(loc))
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.reminderCron, func() { notifier.Run(context.Background()) }); err != nil {
		return fmt.Errorf("schedule tender reminders: %w", err)
	}
	slog.Info("Tender reminder job scheduled", "cron", *flags.reminderCron)

	apiOpts := []api.Option{api.WithMessagingService(msgService)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if emitter != nil {
		apiOpts = append(apiOpts, api.WithEmitter(emitter))
	}
	server, err := api.NewServer(apiOpts...)
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	return server.Start(ctx)
}
