package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"eegportal.org/internal/auth"
	"eegportal.org/internal/config"
	"eegportal.org/internal/files"
	"eegportal.org/internal/httpapi"
	"eegportal.org/internal/obs"
	"eegportal.org/internal/peaks"
	"eegportal.org/internal/users"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("EEG_CONFIG_FILE"), "Path to a YAML config file")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		log.WithError(err).Warn("unknown log level, keeping info")
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("eegportal-api stopped")
	}
}

func run(cfg config.Config) error {
	log := obs.Logger()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	be, err := openBackend(startCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer be.close()

	tokens, err := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	userSvc := users.NewService(be.users, auth.NewBcryptHasher(cfg.Auth.BcryptCost), tokens,
		users.WithEmailDomain(cfg.Auth.EmailDomain))
	fileSvc := files.NewService(be.meta, be.blobs, files.WithMaxSize(cfg.Limits.MaxFileBytes))
	detector, err := peaks.NewProcessDetector(cfg.Peaks.Command, cfg.Peaks.Timeout, peaks.WithDir(cfg.Peaks.Dir))
	if err != nil {
		return err
	}

	if cfg.Auth.AdminEmail != "" {
		if err := bootstrapAdmin(context.Background(), userSvc, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			return err
		}
	}

	probe := httpapi.ReadyProbe{Pingers: be.pingers}
	api := httpapi.New(probe, version, httpapi.Services{
		Tokens: tokens,
		Users:  userSvc,
		Files:  fileSvc,
		Peaks:  detector,
	},
		httpapi.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		httpapi.WithMaxBodyBytes(cfg.Limits.MaxBodyBytes),
		httpapi.WithLoginRate(cfg.Limits.LoginPerSecond, cfg.Limits.LoginBurst),
		httpapi.WithDownloadAuth(cfg.Download.RequireAuth),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", srv.Addr).WithField("version", version).Info("starting eegportal-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewGRPCServer(probe))
		go func() {
			log.WithField("addr", cfg.GRPC.Addr).Info("starting grpc health listener")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case <-stop:
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("listener failed, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	log.Info("stopped")
	return serveErr
}

// bootstrapAdmin creates the configured administrator unless the address is
// already taken.
func bootstrapAdmin(ctx context.Context, svc *users.Service, email, password string) error {
	if _, err := svc.User(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, users.ErrNotFound) {
		return err
	}
	_, err := svc.CreateAdmin(ctx, email, password, "", "")
	if errors.Is(err, users.ErrConflict) {
		return nil
	}
	if err == nil {
		obs.Logger().WithField("email", email).Info("bootstrap admin created")
	}
	return err
}
