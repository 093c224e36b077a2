package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/cloudenroll/policy-enrollment-backend/api/adminhandler"
	"github.com/cloudenroll/policy-enrollment-backend/cmd/flags"
	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/cloudenroll/policy-enrollment-backend/policysign"
	"github.com/cloudenroll/policy-enrollment-backend/storage"
	"github.com/urfave/cli/v2"
)

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "policy server base URL",
	EnvVars: []string{"ENROLLCTL_SERVER"},
}
var adminIDFlag = &cli.StringFlag{
	Name:    "admin-id",
	Usage:   "admin identity (public key fingerprint) for signed requests",
	EnvVars: []string{"ENROLLCTL_ADMIN_ID"},
}
var adminKeyFlag = &cli.StringFlag{
	Name:    "admin-key",
	Usage:   "PEM file with the admin's ECDSA private key",
	EnvVars: []string{"ENROLLCTL_ADMIN_KEY"},
}

func main() {
	app := &cli.App{
		Name:  "enrollctl",
		Usage: "Operator tool for the cloud policy enrollment backend",
		Flags: []cli.Flag{flags.LogJsonFlag, flags.LogDebugFlag, flags.LogServiceFlagFn("enrollctl")},
		Commands: []*cli.Command{
			{
				Name:  "policy",
				Usage: "Manage policy payloads",
				Subcommands: []*cli.Command{
					{
						Name:  "put",
						Usage: "Store a policy payload and assign it to a domain",
						Flags: []cli.Flag{
							serverFlag, adminIDFlag, adminKeyFlag,
							&cli.StringFlag{Name: "domain", Required: true, Usage: "managed domain to assign the payload to"},
							&cli.StringFlag{Name: "file", Required: true, Usage: "policy payload file"},
						},
						Action: policyPut,
					},
					{
						Name:  "show",
						Usage: "Fetch a stored policy payload by content ID",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "storage-location", Required: true, Usage: "storage backend URI (repeatable)"},
							&cli.StringFlag{Name: "content-id", Required: true, Usage: "hex content ID of the payload"},
						},
						Action: policyShow,
					},
				},
			},
			{
				Name:  "devices",
				Usage: "Inspect the device registry",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List registered devices",
						Flags:  []cli.Flag{serverFlag, adminIDFlag, adminKeyFlag},
						Action: devicesList,
					},
				},
			},
			{
				Name:  "admin",
				Usage: "Manage admin keys",
				Subcommands: []*cli.Command{
					{
						Name:  "keygen",
						Usage: "Generate an admin ECDSA keypair",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "out-dir", Value: ".", Usage: "directory to write the keypair to"},
							&cli.StringFlag{Name: "name", Value: "admin", Usage: "basename for the key files"},
						},
						Action: adminKeygen,
					},
				},
			},
			{
				Name:  "escrow",
				Usage: "Split and recover the policy signing master key",
				Subcommands: []*cli.Command{
					{
						Name:  "split",
						Usage: "Split a master key into encrypted per-admin shares",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "master-key", Required: true, Usage: "hex-encoded 32-byte master key to escrow"},
							&cli.IntFlag{Name: "threshold", Value: 2, Usage: "shares required to reconstruct the key"},
							&cli.StringFlag{Name: "admin-keys-file", Required: true, Usage: "JSON file with admin public keys"},
							&cli.StringFlag{Name: "out-dir", Value: ".", Usage: "directory to write encrypted share files to"},
						},
						Action: escrowSplit,
					},
					{
						Name:  "recover",
						Usage: "Recover a master key from encrypted shares and admin keys",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "share-file", Required: true, Usage: "encrypted share file (repeatable)"},
							&cli.StringSliceFlag{Name: "admin-key", Required: true, Usage: "PEM private key file decrypting the matching share-file (repeatable, same order)"},
							&cli.StringFlag{Name: "bundle-out", Usage: "also write the signed share bundle to this file"},
							&cli.BoolFlag{Name: "print-key", Usage: "print the recovered master key in hex"},
						},
						Action: escrowRecover,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func adminClient(cCtx *cli.Context) (*adminhandler.Client, error) {
	keyFile := cCtx.String("admin-key")
	if keyFile == "" {
		return nil, errors.New("admin-key is required")
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	privateKey, err := cryptoutils.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing admin key: %w", err)
	}
	adminID := cCtx.String("admin-id")
	if adminID == "" {
		return nil, errors.New("admin-id is required")
	}
	return adminhandler.NewClient(cCtx.String("server"), adminID, privateKey), nil
}

func policyPut(cCtx *cli.Context) error {
	client, err := adminClient(cCtx)
	if err != nil {
		return err
	}
	domain, err := interfaces.NewDomain(cCtx.String("domain"))
	if err != nil {
		return err
	}
	payload, err := os.ReadFile(cCtx.String("file"))
	if err != nil {
		return err
	}

	stored, err := client.StorePolicy(cCtx.Context, payload)
	if err != nil {
		return fmt.Errorf("storing policy: %w", err)
	}
	contentID, err := interfaces.NewContentIDFromHex(stored.ContentID)
	if err != nil {
		return fmt.Errorf("server returned invalid content ID: %w", err)
	}
	assigned, err := client.AssignPolicy(cCtx.Context, domain, contentID)
	if err != nil {
		return fmt.Errorf("assigning policy: %w", err)
	}

	fmt.Printf("stored:   %s\n", stored.ContentID)
	fmt.Printf("assigned: %s -> %s\n", domain.String(), assigned.ContentID)
	return nil
}

func policyShow(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	uris := cCtx.StringSlice("storage-location")
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return err
		}
		locations = append(locations, loc)
	}
	backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
	if err != nil {
		return err
	}

	contentID, err := interfaces.NewContentIDFromHex(cCtx.String("content-id"))
	if err != nil {
		return err
	}
	payload, err := backend.Fetch(cCtx.Context, contentID, interfaces.PolicyContent)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(payload)
	return err
}

func devicesList(cCtx *cli.Context) error {
	client, err := adminClient(cCtx)
	if err != nil {
		return err
	}
	devices, err := client.ListDevices(cCtx.Context)
	if err != nil {
		return err
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", d.DeviceID, d.Type, d.Domain, d.Email, d.RegisteredAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func adminKeygen(cCtx *cli.Context) error {
	privPEM, pubPEM, err := cryptoutils.GenerateAdminKeyPair()
	if err != nil {
		return err
	}

	name := cCtx.String("name")
	outDir := cCtx.String("out-dir")
	privPath := filepath.Join(outDir, name+".key")
	pubPath := filepath.Join(outDir, name+".pub")

	if err := os.WriteFile(privPath, []byte(privPEM), 0600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, []byte(pubPEM), 0644); err != nil {
		return err
	}

	fmt.Printf("private key: %s\n", privPath)
	fmt.Printf("public key:  %s\n", pubPath)
	fmt.Printf("fingerprint: %s\n", cryptoutils.ComputeFingerprint([]byte(pubPEM)))
	return nil
}

// encryptedShare is the on-disk format of one escrowed share: the share index
// and the share ciphertext, encrypted to the holder's public key.
type encryptedShare struct {
	Index          int    `json:"index"`
	EncryptedShare []byte `json:"encrypted_share"`
	AdminPubKey    []byte `json:"admin_pubkey"`
}

func escrowSplit(cCtx *cli.Context) error {
	masterKey, err := hex.DecodeString(cCtx.String("master-key"))
	if err != nil {
		return fmt.Errorf("invalid master-key: %w", err)
	}

	adminKeysData, err := os.Open(cCtx.String("admin-keys-file"))
	if err != nil {
		return err
	}
	adminKeys, err := cryptoutils.LoadAdminKeys(adminKeysData)
	adminKeysData.Close()
	if err != nil {
		return err
	}

	// Stable share-to-admin assignment needs a stable key order.
	fingerprints := make([]string, 0, len(adminKeys))
	for fp := range adminKeys {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)

	pubKeys := make([][]byte, 0, len(fingerprints))
	for _, fp := range fingerprints {
		pubKeys = append(pubKeys, adminKeys[fp])
	}

	_, shares, err := policysign.NewEscrow(masterKey, policysign.EscrowConfig{
		Threshold:    cCtx.Int("threshold"),
		AdminPubKeys: pubKeys,
	})
	if err != nil {
		return err
	}

	outDir := cCtx.String("out-dir")
	for i, share := range shares {
		encrypted, err := cryptoutils.EncryptWithPublicKey(pubKeys[i], share)
		if err != nil {
			return fmt.Errorf("encrypting share for %s: %w", fingerprints[i], err)
		}
		record, err := json.MarshalIndent(encryptedShare{
			Index:          i,
			EncryptedShare: encrypted,
			AdminPubKey:    pubKeys[i],
		}, "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, fmt.Sprintf("share-%s.json", fingerprints[i]))
		if err := os.WriteFile(path, record, 0600); err != nil {
			return err
		}
		fmt.Printf("share %d: %s\n", i, path)
	}
	return nil
}

func escrowRecover(cCtx *cli.Context) error {
	shareFiles := cCtx.StringSlice("share-file")
	keyFiles := cCtx.StringSlice("admin-key")
	if len(shareFiles) != len(keyFiles) {
		return errors.New("share-file and admin-key must be given the same number of times, in matching order")
	}

	bundle := policysign.SignedShareBundle{Threshold: len(shareFiles)}
	for i, shareFile := range shareFiles {
		record, err := readEncryptedShare(shareFile)
		if err != nil {
			return err
		}
		keyPEM, err := os.ReadFile(keyFiles[i])
		if err != nil {
			return err
		}
		share, err := cryptoutils.DecryptWithPrivateKey(keyPEM, record.EncryptedShare)
		if err != nil {
			return fmt.Errorf("decrypting %s: %w", shareFile, err)
		}
		privateKey, err := cryptoutils.ParsePrivateKey(keyPEM)
		if err != nil {
			return err
		}
		signature, err := policysign.SignShare(share, privateKey)
		if err != nil {
			return err
		}
		bundle.Shares = append(bundle.Shares, policysign.SignedShare{
			Index:       record.Index,
			Share:       share,
			Signature:   signature,
			AdminPubKey: record.AdminPubKey,
		})
	}

	masterKey, err := policysign.RecoverMasterKey(bundle)
	if err != nil {
		return fmt.Errorf("recovering master key: %w", err)
	}

	if out := cCtx.String("bundle-out"); out != "" {
		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := policysign.WriteSignedShareBundle(f, bundle); err != nil {
			return err
		}
		fmt.Printf("bundle: %s\n", out)
	}
	if cCtx.Bool("print-key") {
		fmt.Println(hex.EncodeToString(masterKey))
	} else {
		fmt.Println("master key recovered")
	}
	return nil
}

func readEncryptedShare(path string) (encryptedShare, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return encryptedShare{}, err
	}
	var record encryptedShare
	if err := json.Unmarshal(data, &record); err != nil {
		return encryptedShare{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return record, nil
}
