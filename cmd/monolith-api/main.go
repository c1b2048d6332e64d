package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/config"
	"github.com/MarcoPoloResearchLab/monolith/backend/internal/database"
	"github.com/MarcoPoloResearchLab/monolith/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/monolith/backend/internal/monolith"
	"github.com/MarcoPoloResearchLab/monolith/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/monolith/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/monolith/backend/internal/server"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "monolith-api",
		Short: "The Monolith settlement backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newSignPaymentCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().Bool("pprof", defaults.GetBool("http.pprof"), "Expose /debug/pprof routes")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma-separated CORS origins (empty allows all)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("payments-signing-secret", "", "Payment event signing secret (overrides env)")
	cmd.PersistentFlags().String("payments-issuer", defaults.GetString("payments.issuer"), "Expected payment event issuer")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.pprof", "pprof")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "payments.signing_secret", "payments-signing-secret")
	bindFlag(cmd, "payments.issuer", "payments-issuer")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed the genesis occupant",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDatabase(db, logger)
			logger.Info("migrations applied")
			return nil
		},
	}
}

// signPaymentOptions holds the sign-payment flags.
type signPaymentOptions struct {
	paymentRef                string
	mode                      string
	amount                    string
	content                   string
	syndicateID               string
	authorName                string
	notifyEmail               string
	notifyOnFunded            bool
	notifyOnEveryContribution bool
	ttl                       time.Duration
}

func (o signPaymentOptions) event() (payments.Event, error) {
	parsedAmount, err := decimal.NewFromString(o.amount)
	if err != nil {
		return payments.Event{}, fmt.Errorf("invalid amount %q: %w", o.amount, err)
	}
	return payments.Event{
		PaymentRef:                o.paymentRef,
		Mode:                      payments.Mode(o.mode),
		Amount:                    parsedAmount,
		Content:                   o.content,
		SyndicateID:               o.syndicateID,
		AuthorName:                o.authorName,
		NotifyEmail:               o.notifyEmail,
		NotifyOnFunded:            o.notifyOnFunded,
		NotifyOnEveryContribution: o.notifyOnEveryContribution,
	}, nil
}

func newSignPaymentCommand() *cobra.Command {
	var options signPaymentOptions
	cmd := &cobra.Command{
		Use:   "sign-payment",
		Short: "Print a signed payment event token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if !appConfig.PaymentsEnabled() {
				return fmt.Errorf("payments.signing_secret is required to sign events")
			}
			event, err := options.event()
			if err != nil {
				return err
			}
			signer, err := payments.NewSigner(payments.SignerConfig{
				SigningSecret: []byte(appConfig.PaymentsSigningSecret),
				Issuer:        appConfig.PaymentsIssuer,
				TTL:           options.ttl,
			})
			if err != nil {
				return err
			}
			token, err := signer.Sign(event)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&options.paymentRef, "ref", "", "Payment reference (token id)")
	cmd.Flags().StringVar(&options.mode, "mode", string(payments.ModeSolo), "Settlement mode (solo, syndicate)")
	cmd.Flags().StringVar(&options.amount, "amount", "", "Paid amount in dollars")
	cmd.Flags().StringVar(&options.content, "content", "", "Inscription text")
	cmd.Flags().StringVar(&options.syndicateID, "syndicate-id", "", "Syndicate to contribute to")
	cmd.Flags().StringVar(&options.authorName, "author-name", "", "Display name")
	cmd.Flags().StringVar(&options.notifyEmail, "notify-email", "", "Notification email")
	cmd.Flags().BoolVar(&options.notifyOnFunded, "notify-on-funded", false, "Email the contributor when the syndicate wins")
	cmd.Flags().BoolVar(&options.notifyOnEveryContribution, "notify-on-every-contribution", false, "Email the creator on each contribution (new syndicates)")
	cmd.Flags().DurationVar(&options.ttl, "ttl", 10*time.Minute, "Token lifetime")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	return database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
}

func closeDatabase(db *gorm.DB, logger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Warn("database handle unavailable", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}

func newEmailSender(appConfig config.AppConfig, logger *zap.Logger) (notifications.Sender, error) {
	if !appConfig.EmailEnabled() {
		return notifications.NewLogSender(logger), nil
	}
	return notifications.NewResendSender(notifications.ResendConfig{
		APIKey:      appConfig.ResendAPIKey,
		FromAddress: appConfig.EmailFrom,
		BaseURL:     appConfig.EmailEndpoint,
	})
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)

	sender, err := newEmailSender(appConfig, logger)
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherConfig{
		Events:    notifications.NewGormEventLedger(db, time.Now),
		Sender:    sender,
		Logger:    logger,
		Workers:   appConfig.NotifyWorkers,
		QueueSize: appConfig.NotifyQueueLen,
	})
	if err != nil {
		return err
	}

	monolithService, err := monolith.NewService(monolith.ServiceConfig{
		Ledger:     monolith.NewGormLedger(db),
		Notifier:   dispatcher,
		Clock:      time.Now,
		IDProvider: monolith.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Service:           monolithService,
		Realtime:          server.NewRealtimeDispatcher(),
		Logger:            logger,
		AllowedOrigins:    appConfig.AllowedOrigins,
		EnablePprof:       appConfig.EnablePprof,
		HeartbeatInterval: appConfig.HeartbeatInterval,
	}
	if appConfig.PaymentsEnabled() {
		verifier, err := payments.NewVerifier(payments.VerifierConfig{
			SigningSecret: []byte(appConfig.PaymentsSigningSecret),
			Issuer:        appConfig.PaymentsIssuer,
		})
		if err != nil {
			return err
		}
		processor, err := payments.NewProcessor(monolithService, logger)
		if err != nil {
			return err
		}
		deps.PaymentVerifier = verifier
		deps.PaymentProcessor = processor
	} else {
		logger.Warn("payments.signing_secret not set; payment events route disabled")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("notification dispatcher did not drain", zap.Error(err))
		}
		return shutdownErr
	case err := <-errCh:
		_ = dispatcher.Close(context.Background())
		return err
	}
}
