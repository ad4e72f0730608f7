package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ruteri/config-service/api/clients"
	"github.com/ruteri/config-service/cryptoutils"
	"github.com/ruteri/config-service/httpserver"
	"github.com/urfave/cli/v2"
)

var flagSecretFile = &cli.StringFlag{
	Name:     "secret-file",
	Required: true,
	Usage:    "file holding the key to split: a passphrase or a PEM EC private key",
}
var flagShares = &cli.IntFlag{
	Name:  "shares",
	Value: 3,
	Usage: "number of shares to produce",
}
var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "number of shares needed to unseal",
}
var flagAdminPrivkey = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "Path to admin private key",
}
var flagAdminPubkey = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "Path to admin public key",
}

var splitKeyCommand = &cli.Command{
	Name:  "split-key",
	Usage: "split an encryption key into Shamir shares, one per admin",
	Flags: []cli.Flag{flagSecretFile, flagShares, flagThreshold},
	Action: func(cCtx *cli.Context) error {
		secret, err := os.ReadFile(cCtx.String(flagSecretFile.Name))
		if err != nil {
			return err
		}
		if len(secret) == 0 {
			return errors.New("secret file is empty")
		}

		shares, err := cryptoutils.SplitKey(secret, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"threshold": cCtx.Int(flagThreshold.Name),
			"shares":    shares,
		})
	},
}

var adminKeygenCommand = &cli.Command{
	Name:  "admin-keygen",
	Usage: "generate an admin key pair for the unseal API",
	Flags: []cli.Flag{flagAdminPrivkey, flagAdminPubkey},
	Action: func(cCtx *cli.Context) error {
		privPEM, pubPEM, err := httpserver.GenerateAdminKeyPair()
		if err != nil {
			return err
		}

		if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), []byte(privPEM), 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		if err := os.WriteFile(cCtx.String(flagAdminPubkey.Name), []byte(pubPEM), 0644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}

		fmt.Println("Admin key fingerprint:", httpserver.ComputeFingerprint([]byte(pubPEM)))
		return nil
	},
}

var flagAdminURL = &cli.StringFlag{
	Name:  "admin-url",
	Value: "http://127.0.0.1:8888/admin",
	Usage: "admin API of the config server",
}
var flagAdminID = &cli.StringFlag{
	Name:  "admin-id",
	Usage: "admin ID the key is registered under",
}
var flagShareFile = &cli.StringFlag{
	Name:     "share-file",
	Required: true,
	Usage:    "file holding this admin's hex share",
}
var flagWait = &cli.DurationFlag{
	Name:  "wait",
	Usage: "after submitting, wait this long for the key to be unsealed",
}

func adminClient(cCtx *cli.Context) (*clients.AdminClient, error) {
	if !cCtx.IsSet(flagAdminID.Name) {
		return clients.NewAdminClient(cCtx.String(flagAdminURL.Name), "", nil), nil
	}
	privPEM, err := os.ReadFile(cCtx.String(flagAdminPrivkey.Name))
	if err != nil {
		return nil, err
	}
	key, err := httpserver.ParsePrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	return clients.NewAdminClient(cCtx.String(flagAdminURL.Name), cCtx.String(flagAdminID.Name), key), nil
}

var adminCommand = &cli.Command{
	Name:  "admin",
	Usage: "unseal the encryption key of a running config server",
	Flags: []cli.Flag{flagAdminURL, flagAdminID, flagAdminPrivkey},
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "show the unseal state",
			Action: func(cCtx *cli.Context) error {
				client, err := adminClient(cCtx)
				if err != nil {
					return err
				}
				status, err := client.GetStatus(cCtx.Context)
				if err != nil {
					return err
				}
				return json.NewEncoder(os.Stdout).Encode(status)
			},
		},
		{
			Name:  "unseal",
			Usage: "start collecting shares",
			Flags: []cli.Flag{flagThreshold},
			Action: func(cCtx *cli.Context) error {
				client, err := adminClient(cCtx)
				if err != nil {
					return err
				}
				return client.StartUnseal(cCtx.Context, cCtx.Int(flagThreshold.Name))
			},
		},
		{
			Name:  "share",
			Usage: "submit this admin's share",
			Flags: []cli.Flag{flagShareFile, flagWait},
			Action: func(cCtx *cli.Context) error {
				client, err := adminClient(cCtx)
				if err != nil {
					return err
				}
				share, err := os.ReadFile(cCtx.String(flagShareFile.Name))
				if err != nil {
					return err
				}
				installed, err := client.SubmitShare(cCtx.Context, string(share))
				if err != nil {
					return err
				}
				if installed {
					fmt.Println("Key unsealed")
					return nil
				}
				fmt.Println("Share accepted")

				if wait := cCtx.Duration(flagWait.Name); wait > 0 {
					ctx, cancel := context.WithTimeout(cCtx.Context, wait)
					defer cancel()
					if err := client.WaitForUnseal(ctx, time.Second); err != nil {
						return err
					}
					fmt.Println("Key unsealed")
				}
				return nil
			},
		},
	},
}
