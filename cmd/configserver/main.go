package main

import (
	"context"
	"encoding/pem"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/config-service/cmd/flags"
	"github.com/ruteri/config-service/cryptoutils"
	"github.com/ruteri/config-service/discovery"
	"github.com/ruteri/config-service/encryption"
	"github.com/ruteri/config-service/httpserver"
	"github.com/ruteri/config-service/interfaces"
	"github.com/ruteri/config-service/storage"
	"github.com/urfave/cli/v2"
)

var flagConfigFile = &cli.StringFlag{
	Name:  "config",
	Usage: "TOML file with repositories, overrides and encryption settings",
}
var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8888",
	Usage: "address to listen on for API",
}
var flagRepository = &cli.StringSliceFlag{
	Name:  "repository",
	Usage: "repository location URI, may be repeated (file://, github://, s3://, ipfs://, vault://, redis://, postgres://, sqlite://, env://)",
}
var flagFailOnError = &cli.BoolFlag{
	Name:  "fail-on-error",
	Usage: "fail a lookup when any repository fails instead of skipping it",
}
var flagOverride = &cli.StringSliceFlag{
	Name:  "override",
	Usage: "key=value added to every environment with the highest precedence",
}
var flagEncryptKey = &cli.StringFlag{
	Name:    "encrypt-key",
	EnvVars: []string{"ENCRYPT_KEY"},
	Usage:   "passphrase of the symmetric key for {cipher} values",
}
var flagEncryptSalt = &cli.StringFlag{
	Name:  "encrypt-salt",
	Value: cryptoutils.DefaultSalt,
	Usage: "hex salt for the symmetric key",
}
var flagECIESKeyFile = &cli.StringFlag{
	Name:  "ecies-key-file",
	Usage: "PEM EC private key for asymmetric {cipher} values",
}
var flagVaultDecrypt = &cli.StringFlag{
	Name:  "vault-decrypt",
	Usage: "vault://host:8200/secret?scheme=https resolving {vault}:key#field values",
}
var flagAdminKeysFile = &cli.StringFlag{
	Name:  "admin-keys-file",
	Usage: "JSON file with admin public keys; the encryption key is then unsealed from Shamir shares",
}
var flagUnsealTimeout = &cli.DurationFlag{
	Name:  "unseal-timeout",
	Value: 0,
	Usage: "give up waiting for the key to be unsealed after this long (0 waits forever)",
}
var flagHeartbeatInterval = &cli.DurationFlag{
	Name:  "heartbeat-interval",
	Value: 30 * time.Second,
	Usage: "how often to publish heartbeats",
}

func main() {
	serverFlags := []cli.Flag{
		flagConfigFile,
		flagListenAddr,
		flagRepository,
		flagFailOnError,
		flagOverride,
		flagEncryptKey,
		flagEncryptSalt,
		flagECIESKeyFile,
		flagVaultDecrypt,
		flagAdminKeysFile,
		flagUnsealTimeout,
		flags.RedisURIFlag,
		flags.HeartbeatChannelFlag,
		flagHeartbeatInterval,
		flags.LogServiceFlagFn("configserver"),
	}
	serverFlags = append(serverFlags, flags.CommonFlags...)

	app := &cli.App{
		Name:  "configserver",
		Usage: "Serve application configuration from pluggable repositories",
		Flags: serverFlags,
		Commands: []*cli.Command{
			splitKeyCommand,
			adminKeygenCommand,
			adminCommand,
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func resolveConfig(cCtx *cli.Context) (serverConfig, error) {
	cfg := defaultServerConfig()
	if path := cCtx.String(flagConfigFile.Name); path != "" {
		var err error
		cfg, err = loadServerConfig(path, cfg)
		if err != nil {
			return cfg, err
		}
	}

	if cCtx.IsSet(flagListenAddr.Name) || cfg.ListenAddr == "" {
		cfg.ListenAddr = cCtx.String(flagListenAddr.Name)
	}
	if cCtx.IsSet(flagFailOnError.Name) {
		cfg.FailOnError = cCtx.Bool(flagFailOnError.Name)
	}
	for _, uri := range cCtx.StringSlice(flagRepository.Name) {
		loc, err := interfaces.NewRepositoryLocation(uri)
		if err != nil {
			return cfg, err
		}
		cfg.Repositories = append(cfg.Repositories, loc)
	}
	overrides, err := parseOverrides(cCtx.StringSlice(flagOverride.Name))
	if err != nil {
		return cfg, err
	}
	for k, v := range overrides {
		cfg.Overrides[k] = v
	}
	if cCtx.IsSet(flagEncryptKey.Name) {
		cfg.EncryptKey = cCtx.String(flagEncryptKey.Name)
	}
	if cCtx.IsSet(flagEncryptSalt.Name) || cfg.EncryptSalt == "" {
		cfg.EncryptSalt = cCtx.String(flagEncryptSalt.Name)
	}
	if cCtx.IsSet(flagECIESKeyFile.Name) {
		cfg.ECIESKeyFile = cCtx.String(flagECIESKeyFile.Name)
	}
	if cCtx.IsSet(flagVaultDecrypt.Name) {
		cfg.VaultURI = cCtx.String(flagVaultDecrypt.Name)
	}
	if cCtx.IsSet(flagAdminKeysFile.Name) {
		cfg.AdminKeysFile = cCtx.String(flagAdminKeysFile.Name)
	}

	if len(cfg.Repositories) == 0 {
		return cfg, errors.New("no repositories configured, use --repository or a config file")
	}
	return cfg, nil
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := resolveConfig(cCtx)
	if err != nil {
		logger.Error("Invalid configuration", "err", err)
		return err
	}

	factory := storage.NewRepositoryFactory(logger, cfg.FailOnError)
	composite, err := factory.CreateComposite(cfg.Repositories)
	if err != nil {
		logger.Error("Failed to create repositories", "err", err)
		return err
	}

	keys, err := buildKeyStore(cfg)
	if err != nil {
		logger.Error("Failed to load encryption keys", "err", err)
		return err
	}

	decryptors := []interfaces.EnvironmentDecryptor{encryption.NewCipherDecryptor(keys, logger)}
	if cfg.VaultURI != "" {
		kv, err := storage.VaultKVFromURI(cfg.VaultURI)
		if err != nil {
			logger.Error("Failed to configure vault decryption", "err", err)
			return err
		}
		decryptors = append(decryptors, encryption.NewVaultDecryptor(kv, logger))
	}

	repo := encryption.NewDecryptingRepository(composite, decryptors...)
	repo.SetOverrides(cfg.Overrides)

	var admin *httpserver.AdminHandler
	if cfg.AdminKeysFile != "" {
		admin, err = newAdminHandler(cfg, keys, logger)
		if err != nil {
			logger.Error("Failed to load admin keys", "err", err)
			return err
		}
	}

	handler := httpserver.NewHandler(repo, keys, logger)
	server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cfg.ListenAddr), handler, admin)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting config server", "repositories", len(cfg.Repositories))
	server.RunInBackground()

	if admin != nil {
		go func() {
			waitCtx := ctx
			if timeout := cCtx.Duration(flagUnsealTimeout.Name); timeout > 0 {
				var waitCancel context.CancelFunc
				waitCtx, waitCancel = context.WithTimeout(ctx, timeout)
				defer waitCancel()
			}
			logger.Info("Waiting for the encryption key to be unsealed")
			if err := admin.WaitForUnseal(waitCtx); err != nil {
				logger.Warn("Encryption key was not unsealed", "err", err)
				return
			}
			logger.Info("Encryption key unsealed")
		}()
	}

	if redisURI := cCtx.String(flags.RedisURIFlag.Name); redisURI != "" {
		opts, err := redis.ParseURL(redisURI)
		if err != nil {
			logger.Error("Invalid heartbeat redis URI", "err", err)
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		go publishHeartbeats(ctx, client, cCtx.String(flags.HeartbeatChannelFlag.Name), cCtx.Duration(flagHeartbeatInterval.Name), logger)
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	cancel()
	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

// buildKeyStore installs the configured keys. With admin keys configured the
// default key is installed later, when unsealed.
func buildKeyStore(cfg serverConfig) (*cryptoutils.KeyStore, error) {
	keys := cryptoutils.NewKeyStore(cfg.KeyAlias)

	if cfg.EncryptKey != "" {
		enc, err := cryptoutils.NewAESTextEncryptor(cfg.EncryptKey, cfg.EncryptSalt)
		if err != nil {
			return nil, err
		}
		keys.Add(cfg.KeyAlias, enc)
	}

	if cfg.ECIESKeyFile != "" {
		privPEM, err := os.ReadFile(cfg.ECIESKeyFile)
		if err != nil {
			return nil, err
		}
		enc, err := cryptoutils.NewECIESTextEncryptor(nil, privPEM)
		if err != nil {
			return nil, err
		}
		alias := cfg.KeyAlias
		if cfg.EncryptKey != "" {
			alias = "ecies"
		}
		keys.Add(alias, enc)
	}
	return keys, nil
}

// newAdminHandler creates the unseal API. The reconstructed secret is either a
// PEM EC private key or a passphrase for the symmetric key.
func newAdminHandler(cfg serverConfig, keys *cryptoutils.KeyStore, logger *slog.Logger) (*httpserver.AdminHandler, error) {
	f, err := os.Open(cfg.AdminKeysFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	adminKeys, err := httpserver.LoadAdminKeys(f)
	if err != nil {
		return nil, err
	}
	logger.Info("Admin keys loaded successfully", "count", len(adminKeys))

	return httpserver.NewAdminHandler(logger, adminKeys, func(secret []byte) error {
		var (
			enc interfaces.TextEncryptor
			err error
		)
		if block, _ := pem.Decode(secret); block != nil {
			enc, err = cryptoutils.NewECIESTextEncryptor(nil, secret)
		} else {
			enc, err = cryptoutils.NewAESTextEncryptor(string(secret), cfg.EncryptSalt)
		}
		if err != nil {
			return err
		}
		keys.Add(cfg.KeyAlias, enc)
		return nil
	}), nil
}

// publishHeartbeats announces the server generation until ctx is done. Every
// server process bumps the generation counter when it starts, so clients see a
// new value whenever the set of instances may have changed and resolve the
// config servers again. All instances publish the same value in between.
func publishHeartbeats(ctx context.Context, client *redis.Client, channel string, interval time.Duration, logger *slog.Logger) {
	generationKey := channel + ".generation"
	if err := client.Incr(ctx, generationKey).Err(); err != nil {
		logger.Warn("Failed to bump server generation", "err", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		generation, err := client.Get(ctx, generationKey).Result()
		if err == nil {
			err = discovery.PublishHeartbeat(ctx, client, channel, generation)
		}
		if err != nil && ctx.Err() == nil {
			logger.Warn("Failed to publish heartbeat", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
