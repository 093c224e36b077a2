package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudenroll/policy-enrollment-backend/agent"
	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/cmd/flags"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/cloudenroll/policy-enrollment-backend/policyclient"
	"github.com/cloudenroll/policy-enrollment-backend/serviceresolver"
	"github.com/cloudenroll/policy-enrollment-backend/storage"
	"github.com/urfave/cli/v2"
)

var providerFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "token-url",
		Usage:   "identity provider OAuth2 token endpoint",
		EnvVars: []string{"ENROLLAGENT_TOKEN_URL"},
	},
	&cli.StringFlag{
		Name:    "userinfo-url",
		Usage:   "identity provider userinfo endpoint",
		EnvVars: []string{"ENROLLAGENT_USERINFO_URL"},
	},
	&cli.StringFlag{
		Name:    "client-id",
		Value:   "enrollment-client",
		Usage:   "OAuth2 client ID",
		EnvVars: []string{"ENROLLAGENT_CLIENT_ID"},
	},
	&cli.StringFlag{
		Name:    "client-secret",
		Value:   "enrollment-secret",
		Usage:   "OAuth2 client secret",
		EnvVars: []string{"ENROLLAGENT_CLIENT_SECRET"},
	},
}

var dmFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "dm-url",
		Usage:   "policy server base URL, for example https://policy.example.com",
		EnvVars: []string{"ENROLLAGENT_DM_URL"},
	},
	&cli.StringFlag{
		Name:  "discover",
		Usage: "discover the policy server via DNS SRV for the given domain instead of dm-url",
	},
	&cli.StringFlag{
		Name:  "resolver-addr",
		Usage: "DNS resolver address for discovery, system default when empty",
	},
}

var credentialFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "refresh-token",
		Usage:   "OAuth2 refresh token to exchange for an access token",
		EnvVars: []string{"ENROLLAGENT_REFRESH_TOKEN"},
	},
	&cli.StringFlag{
		Name:    "session-token",
		Usage:   "provider session refresh token for the session-backed strategy",
		EnvVars: []string{"ENROLLAGENT_SESSION_TOKEN"},
	},
	&cli.StringFlag{
		Name:  "username",
		Usage: "username hint forwarded with the session-backed strategy",
	},
}

var enrollFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "type",
		Value: "user",
		Usage: "registration type: 'user' or 'device'",
	},
	&cli.BoolFlag{
		Name:  "force",
		Usage: "register even when the account has no hosted-domain marker",
	},
	&cli.StringFlag{
		Name:    "machine-name",
		Usage:   "machine name reported at registration, hostname when empty",
		EnvVars: []string{"ENROLLAGENT_MACHINE_NAME"},
	},
	&cli.StringFlag{
		Name:    "state-db",
		Value:   "enrollagent.db",
		Usage:   "path to the agent state database",
		EnvVars: []string{"ENROLLAGENT_STATE_DB"},
	},
	&cli.StringFlag{
		Name:    "machine-secret",
		Usage:   "secret sealing the persisted DM token",
		EnvVars: []string{"ENROLLAGENT_MACHINE_SECRET"},
	},
	&cli.BoolFlag{
		Name:  "re-enroll",
		Usage: "discard any persisted registration and enroll from scratch",
	},
	&cli.StringFlag{
		Name:  "verifying-key",
		Usage: "PEM file with the policy verifying key, required to fetch policy",
	},
	&cli.StringFlag{
		Name:  "policy-out",
		Usage: "write the verified policy payload to this file, stdout when empty",
	},
	flags.LogServiceFlagFn("enrollagent"),
}

func main() {
	allFlags := append([]cli.Flag{}, providerFlags...)
	allFlags = append(allFlags, dmFlags...)
	allFlags = append(allFlags, credentialFlags...)
	allFlags = append(allFlags, enrollFlags...)
	allFlags = append(allFlags, flags.LogJsonFlag, flags.LogDebugFlag, flags.LogUidFlag)

	app := &cli.App{
		Name:   "enrollagent",
		Usage:  "Enroll this machine for cloud policy and fetch its policy",
		Flags:  allFlags,
		Action: runAgent,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAgent(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dmURL, err := resolveDMURL(ctx, cCtx, logger)
	if err != nil {
		return err
	}

	regType, err := interfaces.ParseRegistrationType(cCtx.String("type"))
	if err != nil {
		return err
	}
	machineName := cCtx.String("machine-name")
	if machineName == "" {
		machineName, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving machine name: %w", err)
		}
	}

	machineSecret := cCtx.String("machine-secret")
	if machineSecret == "" {
		return errors.New("machine-secret is required")
	}
	store, err := agent.OpenStateStore(cCtx.String("state-db"), []byte(machineSecret), logger)
	if err != nil {
		logger.Error("Failed to open state store", "err", err)
		return err
	}
	defer store.Close()

	enroller := agent.NewEnroller(agent.EnrollerConfig{
		Provider: api.ProviderConfig{
			TokenURL:     cCtx.String("token-url"),
			UserInfoURL:  cCtx.String("userinfo-url"),
			ClientID:     cCtx.String("client-id"),
			ClientSecret: cCtx.String("client-secret"),
		},
		DMServer: api.DMServerConfig{BaseURL: dmURL},
		Request: interfaces.RegistrationRequest{
			Type:      regType,
			ForceLoad: cCtx.Bool("force"),
		},
		MachineName: machineName,
	}, logger)

	client, err := establishRegistration(ctx, cCtx, logger, enroller, store)
	if err != nil {
		return err
	}
	if client == nil {
		// Enrollment ran but the account was not eligible for management.
		logger.Info("Machine is not managed, no policy to fetch")
		return nil
	}

	return fetchAndWritePolicy(ctx, cCtx, logger, client)
}

func resolveDMURL(ctx context.Context, cCtx *cli.Context, logger *slog.Logger) (string, error) {
	dmURL := cCtx.String("dm-url")
	discoverDomain := cCtx.String("discover")

	switch {
	case dmURL != "" && discoverDomain != "":
		return "", errors.New("dm-url and discover are mutually exclusive")
	case dmURL != "":
		return dmURL, nil
	case discoverDomain != "":
		domain, err := interfaces.NewDomain(discoverDomain)
		if err != nil {
			return "", err
		}
		resolver := serviceresolver.NewResolver(cCtx.String("resolver-addr"), logger)
		servers, err := resolver.ResolveDMServers(ctx, domain)
		if err != nil {
			logger.Error("Policy service discovery failed", "domain", domain.String(), "err", err)
			return "", err
		}
		logger.Info("Discovered policy service", "domain", domain.String(), "url", servers[0])
		return servers[0], nil
	default:
		return "", errors.New("either dm-url or discover is required")
	}
}

func establishRegistration(ctx context.Context, cCtx *cli.Context, logger *slog.Logger, enroller *agent.Enroller, store *agent.StateStore) (*policyclient.CloudPolicyClient, error) {
	if cCtx.Bool("re-enroll") {
		if err := store.ClearRegistration(); err != nil {
			return nil, fmt.Errorf("clearing persisted registration: %w", err)
		}
	} else {
		reg, err := store.LoadRegistration()
		switch {
		case err == nil:
			logger.Info("Resuming persisted registration", "deviceID", reg.DeviceID.String())
			return enroller.Resume(reg), nil
		case errors.Is(err, agent.ErrNoRegistration):
			// Fall through to fresh enrollment.
		default:
			return nil, fmt.Errorf("loading persisted registration: %w", err)
		}
	}

	refreshToken := cCtx.String("refresh-token")
	sessionToken := cCtx.String("session-token")

	var result *agent.EnrollResult
	var err error
	switch {
	case refreshToken != "" && sessionToken != "":
		return nil, errors.New("refresh-token and session-token are mutually exclusive")
	case refreshToken != "":
		result, err = enroller.EnrollWithRefreshToken(ctx, refreshToken)
	case sessionToken != "" || cCtx.String("username") != "":
		result, err = enroller.EnrollWithSession(ctx, sessionToken, cCtx.String("username"))
	default:
		return nil, errors.New("either refresh-token or session-token/username is required")
	}
	if err != nil {
		logger.Error("Enrollment failed", "err", err)
		return nil, err
	}
	if !result.Registered {
		return nil, nil
	}

	logger.Info("Enrollment complete", "deviceID", result.DeviceID.String())
	if err := store.SaveRegistration(agent.Registration{
		DeviceID: result.DeviceID,
		DMToken:  result.DMToken,
	}); err != nil {
		return nil, fmt.Errorf("persisting registration: %w", err)
	}
	return result.Client, nil
}

func fetchAndWritePolicy(ctx context.Context, cCtx *cli.Context, logger *slog.Logger, client *policyclient.CloudPolicyClient) error {
	keyFile := cCtx.String("verifying-key")
	if keyFile == "" {
		logger.Info("No verifying key configured, skipping policy fetch")
		return nil
	}
	verifyingKey, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("reading verifying key: %w", err)
	}

	resolver, err := agent.NewPolicyResolver(storage.NewStorageBackendFactory(logger), verifyingKey, logger)
	if err != nil {
		return err
	}

	envelope, err := agent.FetchPolicy(ctx, client)
	if err != nil {
		logger.Error("Policy fetch failed", "err", err)
		return err
	}
	payload, err := resolver.Resolve(ctx, envelope)
	if err != nil {
		logger.Error("Policy verification failed", "err", err)
		return err
	}

	if out := cCtx.String("policy-out"); out != "" {
		if err := os.WriteFile(out, payload, 0644); err != nil {
			return fmt.Errorf("writing policy: %w", err)
		}
		logger.Info("Policy written", "path", out, "bytes", len(payload))
		return nil
	}
	_, err = os.Stdout.Write(payload)
	return err
}
