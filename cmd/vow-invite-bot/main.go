// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// vow-invite-bot watches a Matrix room for joins and invites workshop
// owners and crew, as listed in the Keycloak directory, to their
// workshop spaces. Owners create a space for their workshop by sending
// "!create <slug>" to the bot in a direct message.
//
// Configuration is a single YAML file named by --config or
// VOW_BOT_CONFIG. See lib/config for the keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/directory"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/clock"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/config"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/netutil"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/process"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/secret"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/service"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/version"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/messaging"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/provision"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/workshop"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(version.Name, err)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet(version.Name, pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println(version.Info())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting", "version", version.Info())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := provision.NewMetrics(registry)

	session, err := connectMatrix(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	monitoredRoom, err := ref.ParseRoomID(cfg.Matrix.MonitoredRoomID)
	if err != nil {
		return fmt.Errorf("matrix.monitored_room_id: %w", err)
	}
	if _, err := session.JoinRoom(ctx, monitoredRoom); err != nil {
		// The router accepts the invite once it arrives.
		logger.Warn("cannot join monitored room yet", "room_id", monitoredRoom.String(), "error", err)
	}

	tokens, err := newTokenHolder(cfg, metrics, logger)
	if err != nil {
		return err
	}
	if err := tokens.Refresh(ctx); err != nil {
		return fmt.Errorf("acquiring directory admin token: %w", err)
	}
	go tokens.Run(ctx, cfg.Directory.TokenRefreshInterval)

	directoryClient, err := directory.NewClient(directory.ClientConfig{
		BaseURL:    cfg.Directory.URL,
		Realm:      cfg.Directory.Realm,
		Tokens:     tokens,
		HTTPClient: netutil.NewClient(cfg.Directory.RequestTimeout),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	templates, err := cfg.Templates.Parse()
	if err != nil {
		return err
	}
	serverName, err := cfg.ServerName()
	if err != nil {
		return fmt.Errorf("server name: %w", err)
	}

	engine, err := provision.NewEngine(provision.Config{
		Session: session,
		Directory: &provision.Directory{
			Identities:    messaging.NewSynapseAdmin(session),
			Groups:        directoryClient,
			Server:        session.UserID().Server(),
			Provider:      cfg.Directory.IdentityProvider,
			SlugAttribute: cfg.Directory.SlugAttribute,
			NameAttribute: cfg.Directory.NameAttribute,
		},
		Templates: templates,
		Naming: workshop.Naming{
			Server:        serverName,
			Suffix:        cfg.Bot.AliasSuffix,
			GeneralSuffix: cfg.Bot.GeneralSuffix,
		},
		Tokens: workshop.RoleTokens{
			Owner: cfg.Bot.OwnerToken,
			Crew:  cfg.Bot.CrewToken,
		},
		CommandPrefix:     cfg.Bot.CommandPrefix,
		AdminPowerLevel:   cfg.Bot.AdminPowerLevel,
		RoomVersion:       cfg.Bot.RoomVersion,
		GeneralRoomPublic: cfg.Bot.GeneralRoomPublic,
		Metrics:           metrics,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	clk := clock.Real()
	router := provision.NewRouter(provision.RouterConfig{
		Session:       session,
		Handler:       engine,
		MonitoredRoom: monitoredRoom,
		CommandPrefix: cfg.Bot.CommandPrefix,
		StaleAfter:    cfg.Bot.StaleAfter,
		Clock:         clk,
		Metrics:       metrics,
		Logger:        logger,
	})

	health := &service.Health{}
	metricsDone := make(chan struct{})
	if cfg.Metrics.Listen != "" {
		server := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.Metrics.Listen,
			Handler: service.NewMetricsMux(registry, health),
			Logger:  logger,
		})
		go func() {
			defer close(metricsDone)
			if err := server.Serve(ctx); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	sinceToken, initial, err := service.InitialSync(ctx, session, provision.SyncFilter)
	if err != nil {
		return err
	}
	router.HandleInitialSync(ctx, initial)
	health.SetReady(true)

	logger.Info("bot running",
		"user_id", session.UserID().String(),
		"monitored_room_id", monitoredRoom.String(),
		"server_name", serverName.String(),
	)

	service.RunSyncLoop(ctx, session, service.SyncConfig{
		Filter:  provision.SyncFilter,
		Timeout: int(cfg.Matrix.SyncTimeout.Milliseconds()),
	}, sinceToken, router.HandleSync, clk, logger)

	logger.Info("shutting down, waiting for in-flight events")
	health.SetReady(false)
	router.Wait()
	<-metricsDone
	return nil
}

// connectMatrix opens the bot session with the configured access token
// or password and checks that the token belongs to matrix.user_id.
func connectMatrix(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*messaging.DirectSession, error) {
	userID, err := ref.ParseUserID(cfg.Matrix.UserID)
	if err != nil {
		return nil, fmt.Errorf("matrix.user_id: %w", err)
	}
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	var session *messaging.DirectSession
	token, err := loadSecret(cfg.Matrix.AccessToken, cfg.Matrix.AccessTokenFile)
	if err != nil {
		return nil, fmt.Errorf("matrix access token: %w", err)
	}
	if token != nil {
		session = client.SessionFromToken(userID, token)
	} else {
		password, err := loadSecret(cfg.Matrix.Password, cfg.Matrix.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("matrix password: %w", err)
		}
		defer password.Close()
		session, err = client.Login(ctx, userID, password, cfg.Matrix.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("logging in as %s: %w", userID, err)
		}
		logger.Info("logged in", "user_id", userID.String(), "device_id", session.DeviceID())
	}

	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("validating matrix session: %w", err)
	}
	if whoami != userID {
		session.Close()
		return nil, fmt.Errorf("access token belongs to %s, not matrix.user_id %s", whoami, userID)
	}
	logger.Info("matrix session valid", "user_id", whoami.String())
	return session, nil
}

func newTokenHolder(cfg *config.Config, metrics *provision.Metrics, logger *slog.Logger) (*directory.TokenHolder, error) {
	clientSecret, err := loadSecret(cfg.Directory.ClientSecret, cfg.Directory.ClientSecretFile)
	if err != nil {
		return nil, fmt.Errorf("directory client secret: %w", err)
	}
	password, err := loadSecret(cfg.Directory.Password, cfg.Directory.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("directory password: %w", err)
	}
	realm := cfg.Directory.TokenRealm
	if realm == "" {
		realm = cfg.Directory.Realm
	}
	return directory.NewTokenHolder(directory.TokenConfig{
		BaseURL:      cfg.Directory.URL,
		Realm:        realm,
		ClientID:     cfg.Directory.ClientID,
		ClientSecret: clientSecret,
		Username:     cfg.Directory.Username,
		Password:     password,
		HTTPClient:   netutil.NewClient(cfg.Directory.RequestTimeout),
		Logger:       logger,
		OnRefresh:    metrics.ObserveTokenRefresh,
	})
}

// loadSecret returns the secret from path if set, else from value.
// Both empty yields nil.
func loadSecret(value, path string) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFile(path)
	}
	if value == "" {
		return nil, nil
	}
	return secret.NewFromBytes([]byte(value))
}
