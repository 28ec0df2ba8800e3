package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/backup"
	"github.com/dukerupert/alwaysplan/internal/cache"
	"github.com/dukerupert/alwaysplan/internal/config"
	"github.com/dukerupert/alwaysplan/internal/database"
	"github.com/dukerupert/alwaysplan/internal/email"
	"github.com/dukerupert/alwaysplan/internal/gcal"
	"github.com/dukerupert/alwaysplan/internal/logging"
	"github.com/dukerupert/alwaysplan/internal/mirror"
	"github.com/dukerupert/alwaysplan/internal/planner"
	"github.com/dukerupert/alwaysplan/internal/push"
	"github.com/dukerupert/alwaysplan/internal/reminder"
	"github.com/dukerupert/alwaysplan/internal/secret"
	"github.com/dukerupert/alwaysplan/internal/server"
	"github.com/dukerupert/alwaysplan/internal/store"
	"github.com/dukerupert/alwaysplan/internal/syncjob"
	"github.com/dukerupert/alwaysplan/internal/toggle"
	ws "github.com/dukerupert/alwaysplan/internal/websocket"
)

const usage = `usage:
  alwaysplan                          run the server
  alwaysplan user add EMAIL NAME [TZ] create a user and print its API token
  alwaysplan user token EMAIL         rotate and print a user's API token
  alwaysplan vapid                    generate a VAPID key pair
  alwaysplan backup [list]            back up the database now, or list backups
  alwaysplan restore ID PATH          restore a backup to a new database file`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	args := os.Args[1:]
	switch {
	case len(args) == 0:
		err = serve(cfg, logger)
	case args[0] == "vapid":
		err = printVAPIDKeys()
	case args[0] == "user":
		err = userCommand(cfg, args[1:])
	case args[0] == "backup" || args[0] == "restore":
		err = backupCommand(cfg, logger, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("alwaysplan failed", "error", err)
		os.Exit(1)
	}
}

func printVAPIDKeys() error {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Printf("ALWAYSPLAN_VAPID_PUBLIC_KEY=%s\nALWAYSPLAN_VAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}

func userCommand(cfg *config.Config, args []string) error {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	users := store.NewUserStore(db)

	switch {
	case len(args) >= 3 && args[0] == "add":
		tz := cfg.Timezone
		if len(args) > 3 {
			tz = args[3]
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
		u, err := users.Create(args[1], args[2], tz)
		if err != nil {
			return err
		}
		fmt.Printf("user %d created\ntoken: %s\n", u.ID, u.APIToken)
		return nil
	case len(args) == 2 && args[0] == "token":
		u, err := users.GetByEmail(args[1])
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("no user with email %s", args[1])
		}
		token, err := users.RotateToken(u.ID)
		if err != nil {
			return err
		}
		fmt.Printf("token: %s\n", token)
		return nil
	}
	return errors.New(usage)
}

// newBackupManager returns nil when no bucket is configured.
func newBackupManager(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*backup.Manager, error) {
	if !cfg.Backup.Enabled() {
		return nil, nil
	}
	box, err := secret.New(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	s3cfg := cfg.Backup.S3
	client := backup.NewS3Client(backup.S3Config{
		Endpoint:  s3cfg.Endpoint,
		Bucket:    s3cfg.Bucket,
		Region:    s3cfg.Region,
		AccessKey: s3cfg.AccessKey,
		SecretKey: s3cfg.SecretKey,
	})
	return backup.NewManager(backup.Config{
		Bucket:    s3cfg.Bucket,
		Retention: cfg.Backup.Retention,
		Schedule:  cfg.Backup.Schedule,
	}, db, store.NewBackupStore(db), box, client, logger.With("component", "backup"))
}

func backupCommand(cfg *config.Config, logger *slog.Logger, args []string) error {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	m, err := newBackupManager(cfg, db, logger)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.New("backups are not configured: set ALWAYSPLAN_S3_BUCKET and credentials")
	}
	ctx := context.Background()

	switch {
	case args[0] == "backup" && len(args) == 1:
		b, err := m.RunNow(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("backup %d uploaded to %s (%d bytes)\n", b.ID, b.ObjectKey, b.SizeBytes)
		return nil
	case args[0] == "backup" && len(args) == 2 && args[1] == "list":
		list, err := m.List(50)
		if err != nil {
			return err
		}
		for _, b := range list {
			fmt.Printf("%d\t%s\t%s\t%d\n", b.ID, b.StartedAt.Format(time.RFC3339), b.Status, b.SizeBytes)
		}
		return nil
	case args[0] == "restore" && len(args) == 3:
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("backup id %q: %w", args[1], err)
		}
		if err := m.Restore(ctx, id, args[2]); err != nil {
			return err
		}
		fmt.Printf("restored backup %d to %s\n", id, args[2])
		return nil
	}
	return errors.New(usage)
}

// notifiers assembles the reminder delivery channels that are configured.
// The push notifier is also returned on its own; it is nil without VAPID keys.
func notifiers(cfg *config.Config, pushStore *store.PushStore, logger *slog.Logger) (reminder.Fanout, *push.Notifier) {
	var out reminder.Fanout
	var pushNotifier *push.Notifier

	pushCfg := push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
	}
	if pushCfg.Configured() {
		pushNotifier = push.NewNotifier(push.NewService(pushCfg), pushStore, logger.With("component", "push"))
		out = append(out, pushNotifier)
	} else {
		logger.Warn("web push disabled: VAPID keys not set")
	}

	var mailer email.Mailer
	switch cfg.Email.Provider {
	case "postmark":
		mailer = email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From)
	case "sendgrid":
		mailer = email.NewSendGrid(cfg.Email.SendGridAPIKey, cfg.Email.From, cfg.Email.FromName)
	}
	if mailer != nil {
		out = append(out, email.NewNotifier(mailer, cfg.BaseURL))
	}
	return out, pushNotifier
}

func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	loc := cfg.Location()
	users := store.NewUserStore(db)
	occurrences := store.NewOccurrenceStore(db)
	links := store.NewSyncLinkStore(db)
	settings := store.NewSyncSettingsStore(db)
	creds := store.NewCredentialStore(db)
	pushStore := store.NewPushStore(db)
	sends := store.NewSendLogStore(db)

	// Calendar access
	oauthCfg := gcal.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
	}
	var provider mirror.Provider = gcal.Unconfigured{}
	var connector *gcal.Connector
	clients := gcal.NewClientCache()
	states := cache.New[string, int64](10 * time.Minute)
	if oauthCfg.Configured() {
		box, err := secret.New(cfg.SecretKey)
		if err != nil {
			return err
		}
		oauth := gcal.NewOAuth2Config(oauthCfg)
		p := gcal.NewProvider(oauth, creds, box, clients, logger.With("component", "gcal"))
		provider = p
		connector = gcal.NewConnector(oauth, states, creds, box, p)
	} else {
		logger.Warn("calendar mirror disabled: google oauth client not configured")
	}

	m := mirror.New(occurrences, links, settings, users, provider, mirror.Config{
		ImportPast:   time.Duration(cfg.Sync.ImportPastDays) * 24 * time.Hour,
		ImportFuture: time.Duration(cfg.Sync.ImportFutureDays) * 24 * time.Hour,
		Location:     loc,
	}, logger.With("component", "mirror"))
	toggles := toggle.New(settings, occurrences, m, logger.With("component", "toggle"))
	plan := planner.New(occurrences, m, logger.With("component", "planner"))

	job, err := syncjob.New(cfg.Sync.Schedule, settings, m, logger.With("component", "syncjob"))
	if err != nil {
		return err
	}

	fanout, pushNotifier := notifiers(cfg, pushStore, logger)
	sched := reminder.NewScheduler(occurrences, sends, fanout, reminder.Config{
		Interval:  cfg.Reminder.Interval,
		Lookahead: cfg.Reminder.Lookahead,
		Retention: cfg.Reminder.Retention,
		Location:  loc,
	}, logger.With("component", "reminder"))

	backups, err := newBackupManager(cfg, db, logger)
	if err != nil {
		return err
	}

	var signer *auth.FeedSigner
	if cfg.SecretKey != "" {
		if signer, err = auth.NewFeedSigner(cfg.SecretKey); err != nil {
			return err
		}
	} else {
		logger.Warn("calendar feed links disabled: secret key not set")
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	deps := server.Deps{
		Users:          users,
		Occurrences:    occurrences,
		SyncSettings:   settings,
		Credentials:    creds,
		Push:           pushStore,
		Planner:        plan,
		Syncer:         m,
		Toggles:        toggles,
		FeedSigner:     signer,
		Hub:            hub,
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		BaseURL:        cfg.BaseURL,
		Location:       loc,
		FeedPast:       time.Duration(cfg.Sync.ImportPastDays) * 24 * time.Hour,
		FeedFuture:     time.Duration(cfg.Sync.ImportFutureDays) * 24 * time.Hour,
		OriginPatterns: originPatterns(cfg.BaseURL),
	}
	if connector != nil {
		deps.Connector = connector
	}
	if pushNotifier != nil {
		deps.PushNotifier = pushNotifier
	}
	srv := server.New(deps, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("alwaysplan starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		return job.Run(ctx)
	})
	if backups != nil {
		g.Go(func() error {
			return backups.Run(ctx)
		})
	}
	g.Go(func() error {
		clients.Run(ctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		states.Run(ctx, time.Minute)
		return nil
	})
	for _, rl := range srv.RateLimiters() {
		g.Go(func() error {
			rl.Run(ctx, time.Minute)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
