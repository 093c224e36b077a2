package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api/tokenhandler"
	"github.com/cloudenroll/policy-enrollment-backend/api/userinfohandler"
	"github.com/cloudenroll/policy-enrollment-backend/cmd/flags"
	"github.com/cloudenroll/policy-enrollment-backend/httpserver"
	"github.com/cloudenroll/policy-enrollment-backend/metrics"
	"github.com/urfave/cli/v2"
)

var stubFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8081",
		Usage:   "address to listen on for the token and userinfo endpoints",
		EnvVars: []string{"IDENTITYSTUB_LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:     "accounts-file",
		Required: true,
		Usage:    "JSON file with provider accounts keyed by refresh token",
		EnvVars:  []string{"IDENTITYSTUB_ACCOUNTS_FILE"},
	},
	&cli.StringFlag{
		Name:    "client-id",
		Value:   "enrollment-client",
		Usage:   "OAuth2 client ID accepted by the token endpoint",
		EnvVars: []string{"IDENTITYSTUB_CLIENT_ID"},
	},
	&cli.StringFlag{
		Name:    "client-secret",
		Value:   "enrollment-secret",
		Usage:   "OAuth2 client secret accepted by the token endpoint",
		EnvVars: []string{"IDENTITYSTUB_CLIENT_SECRET"},
	},
	&cli.StringFlag{
		Name:    "access-token-secret",
		Usage:   "hex-encoded HS256 secret access tokens are signed with",
		EnvVars: []string{"IDENTITYSTUB_ACCESS_TOKEN_SECRET"},
	},
	&cli.IntFlag{
		Name:  "token-ttl-seconds",
		Value: int(tokenhandler.DefaultTokenTTL / time.Second),
		Usage: "access token lifetime in seconds",
	},
	flags.LogServiceFlagFn("identitystub"),
}

func main() {
	app := &cli.App{
		Name:  "identitystub",
		Usage: "Serve a stub OAuth2 identity provider for enrollment testing",
		Flags: append(stubFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))

			secretHex := cCtx.String("access-token-secret")
			if secretHex == "" {
				return errors.New("access-token-secret is required")
			}
			signingSecret, err := hex.DecodeString(secretHex)
			if err != nil {
				return fmt.Errorf("invalid access-token-secret: %w", err)
			}

			accountsData, err := os.Open(cCtx.String("accounts-file"))
			if err != nil {
				logger.Error("Failed to open accounts file", "err", err)
				return err
			}
			accounts, err := tokenhandler.LoadAccounts(accountsData)
			accountsData.Close()
			if err != nil {
				logger.Error("Failed to load accounts", "err", err)
				return err
			}
			logger.Info("Accounts loaded", "count", len(accounts))

			tokenHandler, err := tokenhandler.NewHandler(accounts, tokenhandler.Config{
				ClientID:      cCtx.String("client-id"),
				ClientSecret:  cCtx.String("client-secret"),
				SigningSecret: signingSecret,
				TokenTTL:      time.Duration(cCtx.Int("token-ttl-seconds")) * time.Second,
			}, logger)
			if err != nil {
				logger.Error("Failed to create token handler", "err", err)
				return err
			}
			userinfoHandler, err := userinfohandler.NewHandler(signingSecret, logger)
			if err != nil {
				logger.Error("Failed to create userinfo handler", "err", err)
				return err
			}

			metricsSrv, err := metrics.New("identitystub", cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			server, err := httpserver.New(cfg, metricsSrv, tokenHandler, userinfoHandler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "listenAddr", cfg.ListenAddr)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
