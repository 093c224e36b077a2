package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudenroll/policy-enrollment-backend/api/adminhandler"
	"github.com/cloudenroll/policy-enrollment-backend/api/dmhandler"
	"github.com/cloudenroll/policy-enrollment-backend/cmd/flags"
	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/cloudenroll/policy-enrollment-backend/httpserver"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/cloudenroll/policy-enrollment-backend/metrics"
	"github.com/cloudenroll/policy-enrollment-backend/policysign"
	"github.com/cloudenroll/policy-enrollment-backend/registry"
	"github.com/cloudenroll/policy-enrollment-backend/storage"
	"github.com/urfave/cli/v2"
)

var serverFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		Usage:   "address to listen on for the device-management and admin API",
		EnvVars: []string{"POLICYSERVER_LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:    "registry-db",
		Value:   "policyserver.db",
		Usage:   "path to the bolt device registry database",
		EnvVars: []string{"POLICYSERVER_REGISTRY_DB"},
	},
	&cli.StringSliceFlag{
		Name:    "storage-location",
		Usage:   "policy storage backend URI (repeatable): file://, s3://, vault://, ipfs://, github://",
		EnvVars: []string{"POLICYSERVER_STORAGE_LOCATION"},
	},
	&cli.StringFlag{
		Name:    "signing-master-key",
		Usage:   "hex-encoded 32-byte policy signing master key",
		EnvVars: []string{"POLICYSERVER_SIGNING_MASTER_KEY"},
	},
	&cli.StringFlag{
		Name:  "escrow-shares-file",
		Usage: "signed escrow share bundle to recover the signing master key from (alternative to signing-master-key)",
	},
	&cli.StringFlag{
		Name:    "admin-keys-file",
		Usage:   "JSON file with admin public keys authorized for the admin API",
		EnvVars: []string{"POLICYSERVER_ADMIN_KEYS_FILE"},
	},
	&cli.StringFlag{
		Name:    "access-token-secret",
		Usage:   "hex-encoded HS256 secret shared with the identity provider for access token validation",
		EnvVars: []string{"POLICYSERVER_ACCESS_TOKEN_SECRET"},
	},
	&cli.IntFlag{
		Name:  "inline-limit",
		Value: dmhandler.DefaultInlineLimit,
		Usage: "policy payload size up to which fetch responses inline the payload",
	},
	flags.LogServiceFlagFn("policyserver"),
}

func main() {
	app := &cli.App{
		Name:  "policyserver",
		Usage: "Serve the cloud policy device-management and admin API",
		Flags: append(serverFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))

			masterKey, err := loadMasterKey(cCtx)
			if err != nil {
				logger.Error("Failed to load signing master key", "err", err)
				return err
			}
			signer, err := policysign.NewSimpleSigner(masterKey)
			if err != nil {
				logger.Error("Failed to create policy signer", "err", err)
				return err
			}

			secretHex := cCtx.String("access-token-secret")
			if secretHex == "" {
				return errors.New("access-token-secret is required")
			}
			accessTokenSecret, err := hex.DecodeString(secretHex)
			if err != nil {
				return fmt.Errorf("invalid access-token-secret: %w", err)
			}

			locationURIs := cCtx.StringSlice("storage-location")
			if len(locationURIs) == 0 {
				return errors.New("at least one storage-location is required")
			}
			locations := make([]interfaces.StorageBackendLocation, 0, len(locationURIs))
			for _, uri := range locationURIs {
				loc, err := interfaces.NewStorageBackendLocation(uri)
				if err != nil {
					logger.Error("Invalid storage location", "uri", uri, "err", err)
					return err
				}
				locations = append(locations, loc)
			}

			storageFactory := storage.NewStorageBackendFactory(logger)
			backend, err := storageFactory.CreateMultiBackend(locations)
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err)
				return err
			}

			deviceRegistry, err := registry.NewBoltRegistry(cCtx.String("registry-db"), logger)
			if err != nil {
				logger.Error("Failed to open device registry", "err", err)
				return err
			}
			defer deviceRegistry.Close()

			adminKeysFile := cCtx.String("admin-keys-file")
			if adminKeysFile == "" {
				return errors.New("admin-keys-file is required")
			}
			adminKeysData, err := os.Open(adminKeysFile)
			if err != nil {
				logger.Error("Failed to open admin keys file", "err", err)
				return err
			}
			adminKeys, err := cryptoutils.LoadAdminKeys(adminKeysData)
			adminKeysData.Close()
			if err != nil {
				logger.Error("Failed to load admin keys", "err", err)
				return err
			}
			logger.Info("Admin keys loaded", "count", len(adminKeys))

			metricsSrv, err := metrics.New("policyserver", cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			dmHandler, err := dmhandler.NewHandler(deviceRegistry, signer, backend, dmhandler.Config{
				AccessTokenSecret: accessTokenSecret,
				PolicyLocations:   locationURIs,
				InlineLimit:       cCtx.Int("inline-limit"),
			}, metricsSrv.Metrics, logger)
			if err != nil {
				logger.Error("Failed to create device-management handler", "err", err)
				return err
			}
			adminHandler := adminhandler.NewHandler(deviceRegistry, signer, backend, adminKeys, locationURIs, logger)

			server, err := httpserver.New(cfg, metricsSrv, dmHandler, adminHandler)
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

// loadMasterKey resolves the signing master key either directly from the
// signing-master-key flag or by reconstructing it from a signed escrow share
// bundle.
func loadMasterKey(cCtx *cli.Context) ([]byte, error) {
	keyHex := cCtx.String("signing-master-key")
	sharesFile := cCtx.String("escrow-shares-file")

	switch {
	case keyHex != "" && sharesFile != "":
		return nil, errors.New("signing-master-key and escrow-shares-file are mutually exclusive")
	case keyHex != "":
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid signing-master-key: %w", err)
		}
		return key, nil
	case sharesFile != "":
		f, err := os.Open(sharesFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		bundle, err := policysign.ReadSignedShareBundle(f)
		if err != nil {
			return nil, fmt.Errorf("reading escrow share bundle: %w", err)
		}
		return policysign.RecoverMasterKey(bundle)
	default:
		return nil, errors.New("either signing-master-key or escrow-shares-file is required")
	}
}
