package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"gild/internal/apperr"
	"gild/internal/audit"
	"gild/internal/auth"
	"gild/internal/config"
	"gild/internal/domain"
	apphttp "gild/internal/http"
	"gild/internal/repository/sqlstore"
	"gild/internal/service"
	"gild/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		serve(logger, args)
	case "bootstrap-user":
		bootstrapUser(logger, args)
	default:
		logger.Fatalf("unknown command %q (expected serve or bootstrap-user)", cmd)
	}
}

func serve(logger *logrus.Logger, args []string) {
	flags := pflag.NewFlagSet("serve", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a config file")
	_ = flags.Parse(args)

	cfg := loadConfig(logger, *configPath)

	signingKey, generated, err := cfg.DeriveSigningKey()
	if err != nil {
		logger.Fatalf("derive signing key: %v", err)
	}
	if generated {
		logger.Warnf("generated new signing key material in %s", cfg.Auth.KeyFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := openDatabase(ctx, logger, cfg)
	defer db.Close()

	clock := domain.SystemClock{}
	userService := service.NewUserService(sqlstore.NewUserRepository(db), clock)
	sessionService := service.NewSessionService(sqlstore.NewSessionRepository(db), clock)
	auditRepo := sqlstore.NewAuditLogRepository(db)
	auditService := service.NewAuditService(auditRepo)

	signer, err := auth.NewSigner(signingKey, clock)
	if err != nil {
		logger.Fatalf("create token signer: %v", err)
	}
	authenticator := auth.NewAuthenticator(signer, sessionService, userService, clock, logger)

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	archiver := audit.NewArchiver(auditService, storageSvc, cfg.Storage.Bucket, cfg.Storage.KeyPrefix, clock)

	recorder := audit.NewRecorder(audit.Config{
		QueueSize:    cfg.Audit.QueueSize,
		WriteTimeout: 5 * time.Second,
		Clock:        clock,
		Logger:       logger,
	}, auditRepo)
	recorder.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, auditService, authenticator, recorder, archiver, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warnf("audit recorder: %v", err)
	}
	if n := recorder.Dropped(); n > 0 {
		logger.Warnf("%d audit entries were dropped", n)
	}

	logger.Info("bye")
}

func bootstrapUser(logger *logrus.Logger, args []string) {
	flags := pflag.NewFlagSet("bootstrap-user", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a config file")
	username := flags.String("username", "", "name of the first user")
	_ = flags.Parse(args)

	if strings.TrimSpace(*username) == "" {
		logger.Fatalf("--username is required")
	}

	cfg := loadConfig(logger, *configPath)
	ctx := context.Background()

	db := openDatabase(ctx, logger, cfg)
	defer db.Close()

	userRepo := sqlstore.NewUserRepository(db)
	count, err := userRepo.CountActive(ctx)
	if err != nil {
		logger.Fatalf("count users: %v", err)
	}
	if count > 0 {
		logger.Fatalf("refusing to bootstrap: %d active user(s) already exist", count)
	}

	password, err := readPassword()
	if err != nil {
		logger.Fatalf("read password: %v", err)
	}

	user, err := service.NewUserService(userRepo, domain.SystemClock{}).Create(ctx, nil, service.NewUser{
		Username: *username,
		Password: password,
	})
	if err != nil {
		appErr := apperr.From(err)
		switch appErr.Kind {
		case apperr.KindInvalidCredentials:
			logger.Fatalf("refusing to bootstrap: an active user already exists")
		case apperr.KindValidation:
			logger.Fatalf("invalid user: %s", appErr.Detail)
		default:
			logger.Fatalf("create user: %v", err)
		}
	}
	logger.WithField("user_id", user.ID).Infof("created user %s", user.Username)
}

func loadConfig(logger *logrus.Logger, path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatalf("log level: %v", err)
	}
	logger.SetLevel(level)
	return cfg
}

func openDatabase(ctx context.Context, logger *logrus.Logger, cfg config.Config) *sqlstore.DB {
	db, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		logger.Fatalf("migrate database: %v", err)
	}
	return db
}

// readPassword prompts twice without echo on a terminal, or reads one line
// from a pipe.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, audit archive disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving audit log to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
