package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duet/internal/api"
	"duet/internal/auth"
	"duet/internal/commands"
	"duet/internal/config"
	"duet/internal/filestore"
	"duet/internal/http"
	"duet/internal/logger"
	"duet/internal/models"
	"duet/internal/notify"
	"duet/internal/storage"
	"duet/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("duet", flag.ContinueOnError)
	resetPassword := flags.String("reset-password", "", "Email of an account to create a password reset link for")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*resetPassword != "")
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if *resetPassword != "" {
		return commands.ResetPassword(*resetPassword, cfg, stdout)
	}

	if cfg.GateMode == models.GateModeCode {
		log.Warn().Msg("GATE_MODE=code: anyone who knows the access code can enter, this is not access control")
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	var mailer auth.Mailer = notify.LogMailer{}
	if cfg.SendGridAPIKey != "" {
		mailer = notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom)
	}

	authService, err := auth.NewService(ctx, auth.Config{
		Secret:           base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry:      cfg.TokenExpiry,
		ResetTokenExpiry: cfg.ResetTokenExpiry,
		Mode:             cfg.GateMode,
		AccessCode:       cfg.AccessCode,
		BaseURL:          cfg.BaseURL,
	}, bbStorage, mailer)
	if err != nil {
		return err
	}

	files, err := newFileStore(ctx, cfg)
	if err != nil {
		return err
	}

	push := notify.NewWebPush(notify.PushConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}, bbStorage)

	hub := ws.NewHub(bbStorage)
	wsServer := ws.NewServer(ctx, authService, hub)

	apiHandlers := api.New(ctx, api.Config{
		LoginRate: cfg.LoginRate,
		MaxBytes:  cfg.MediaMaxBytes,
	}, authService, bbStorage, hub, files, push)

	adminServer := http.NewAdminServer(http.AdminServerConfig{
		Addr:     cfg.AdminAddr,
		User:     cfg.AdminUser,
		Password: cfg.AdminPassword,
	}, api.NewAdminHandler(authService, bbStorage, hub))
	apiServer := http.NewAPIServer(http.APIServerConfig{
		Addr:       cfg.APIAddr,
		LocalMedia: cfg.MediaBackend == "local",
	}, authService, apiHandlers, wsServer)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Admin server shutdown error")
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
		return nil
	})

	return g.Wait()
}

func newFileStore(ctx context.Context, cfg *config.Config) (filestore.FileStore, error) {
	if cfg.MediaBackend == "s3" {
		return filestore.NewS3FileStore(ctx, filestore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
	}
	return filestore.NewLocalFileStore(cfg.MediaPath, "/media")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Application error")
	}
}
