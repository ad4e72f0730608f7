package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/config-service/cmd/flags"
	"github.com/ruteri/config-service/configclient"
	"github.com/ruteri/config-service/discovery"
	"github.com/urfave/cli/v2"
)

var flagLocation = &cli.StringFlag{
	Name:  "location",
	Value: "optional:configserver:" + configclient.DefaultURI,
	Usage: "[optional:]configserver:http://a,http://b?fail-fast=true&max-attempts=6",
}
var flagName = &cli.StringFlag{
	Name:  "name",
	Value: configclient.DefaultName,
	Usage: "application name",
}
var flagProfile = &cli.StringFlag{
	Name:  "profile",
	Value: configclient.DefaultProfile,
	Usage: "comma-separated active profiles",
}
var flagLabel = &cli.StringFlag{
	Name:  "label",
	Usage: "comma-separated labels, tried in order",
}
var flagToken = &cli.StringFlag{
	Name:    "token",
	EnvVars: []string{"CONFIG_TOKEN"},
	Usage:   "token sent in the X-Config-Token header",
}
var flagWatch = &cli.BoolFlag{
	Name:  "watch",
	Usage: "keep running and print the configuration again when it changes",
}
var flagWatchInitialDelay = &cli.DurationFlag{
	Name:  "watch-initial-delay",
	Value: configclient.DefaultWatchInitialDelay,
}
var flagWatchDelay = &cli.DurationFlag{
	Name:  "watch-delay",
	Value: configclient.DefaultWatchDelay,
}
var flagWatchProbe = &cli.BoolFlag{
	Name:  "watch-probe",
	Usage: "detect changes by fetching the environment instead of comparing the last seen state",
}
var flagDiscoveryDNS = &cli.StringFlag{
	Name:  "discovery-dns",
	Usage: "DNS server (host:port) to look config servers up in; enables discovery",
}
var flagDiscoveryDomain = &cli.StringFlag{
	Name:  "discovery-domain",
	Value: "service.consul",
	Usage: "domain holding the _<service-id>._tcp SRV records",
}
var flagDiscoveryServiceID = &cli.StringFlag{
	Name:  "discovery-service-id",
	Value: discovery.DefaultServiceID,
}
var flagDiscoverySecure = &cli.BoolFlag{
	Name:  "discovery-secure",
	Usage: "use https for discovered instances",
}
var flagHeartbeatPoll = &cli.DurationFlag{
	Name:  "heartbeat-poll",
	Value: 30 * time.Second,
	Usage: "without Redis, how often to poll the discovered instances for changes",
}

func main() {
	clientFlags := []cli.Flag{
		flagLocation,
		flagName,
		flagProfile,
		flagLabel,
		flagToken,
		flagWatch,
		flagWatchInitialDelay,
		flagWatchDelay,
		flagWatchProbe,
		flagDiscoveryDNS,
		flagDiscoveryDomain,
		flagDiscoveryServiceID,
		flagDiscoverySecure,
		flags.RedisURIFlag,
		flags.HeartbeatChannelFlag,
		flagHeartbeatPoll,
		flags.LogServiceFlagFn("configclient"),
	}
	clientFlags = append(clientFlags, flags.LogFlags...)

	app := &cli.App{
		Name:   "configclient",
		Usage:  "Resolve application configuration from config servers",
		Flags:  clientFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func clientProperties(cCtx *cli.Context) (configclient.Properties, error) {
	base := configclient.DefaultProperties()
	base.Name = cCtx.String(flagName.Name)
	base.Profile = cCtx.String(flagProfile.Name)
	base.Label = cCtx.String(flagLabel.Name)
	base.Token = cCtx.String(flagToken.Name)
	return configclient.ParseLocation(cCtx.String(flagLocation.Name), base)
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	props, err := clientProperties(cCtx)
	if err != nil {
		logger.Error("Invalid location", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := configclient.NewClient(props, nil, logger)
	if err != nil {
		logger.Error("Invalid client configuration", "err", err)
		return err
	}

	var monitor *discovery.Monitor
	var lookup *discovery.DNSLookup
	if server := cCtx.String(flagDiscoveryDNS.Name); server != "" {
		lookup = discovery.NewDNSLookup(server, cCtx.String(flagDiscoveryDomain.Name), cCtx.Bool(flagDiscoverySecure.Name))
		monitor = discovery.NewMonitor(lookup.Lookup, client.Endpoints(), client.Guard(), discovery.Options{
			ServiceID: cCtx.String(flagDiscoveryServiceID.Name),
			FailFast:  props.FailFast,
			Retry:     props.Retry,
			Username:  props.Username,
			Password:  props.Password,
		}, logger)
		if err := monitor.Startup(ctx); err != nil {
			logger.Error("Config server discovery failed", "err", err)
			return err
		}
	}

	snap, err := client.Load(ctx)
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		return err
	}
	if err := printSnapshot(snap); err != nil {
		return err
	}

	if !cCtx.Bool(flagWatch.Name) {
		return nil
	}

	client.OnRefresh(func(snap *configclient.Snapshot) {
		if err := printSnapshot(snap); err != nil {
			logger.Error("Failed to print configuration", "err", err)
		}
	})

	source := client.CurrentState
	if cCtx.Bool(flagWatchProbe.Name) {
		source = client.ProbeState
	}
	watch := client.NewWatch(source, configclient.WatchOpts{
		InitialDelay: cCtx.Duration(flagWatchInitialDelay.Name),
		Delay:        cCtx.Duration(flagWatchDelay.Name),
	})
	watch.Start(ctx)
	defer watch.Stop()

	if monitor != nil {
		heartbeat, closeHeartbeat, err := heartbeatSource(cCtx, lookup, logger)
		if err != nil {
			logger.Error("Invalid heartbeat configuration", "err", err)
			return err
		}
		defer closeHeartbeat()
		go func() {
			if err := monitor.Watch(ctx, heartbeat); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Heartbeat source failed", "err", err)
			}
		}()
	}

	logger.Info("Watching for configuration changes, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

// heartbeatSource subscribes to server heartbeats on Redis when configured and
// otherwise polls the discovered instance set.
func heartbeatSource(cCtx *cli.Context, lookup *discovery.DNSLookup, logger *slog.Logger) (discovery.HeartbeatSource, func(), error) {
	if uri := cCtx.String(flags.RedisURIFlag.Name); uri != "" {
		opts, err := redis.ParseURL(uri)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		return discovery.NewRedisHeartbeat(client, cCtx.String(flags.HeartbeatChannelFlag.Name)), func() { client.Close() }, nil
	}

	value := discovery.InstanceHash(lookup.Lookup, cCtx.String(flagDiscoveryServiceID.Name))
	return discovery.NewPollingHeartbeat(cCtx.Duration(flagHeartbeatPoll.Name), value, logger), func() {}, nil
}

func printSnapshot(snap *configclient.Snapshot) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap.Flatten()); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return nil
}
