package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/api"
	"astrobridge/pkg/eventbridge"
	"astrobridge/pkg/facade"
	"astrobridge/pkg/indiclient"
	"astrobridge/pkg/metrics"
	"astrobridge/pkg/store"
	"astrobridge/templates"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the HTTP API, the event stream and the MQTT bridge",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Aliases: []string{"l"},
			Usage:   "Address to listen on (default from config)",
			EnvVars: []string{"ASTROBRIDGE_LISTEN"},
		},
	},
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, c)
	},
}

// seedStore writes the servers, profiles and MQTT settings of the config
// file to the store.
func seedStore(st *store.Store, cfg Config) error {
	for _, s := range cfg.Servers {
		if err := st.SaveServer(s); err != nil {
			return err
		}
	}
	for _, d := range cfg.Devices {
		if err := st.SaveDeviceProfile(d); err != nil {
			return err
		}
	}
	if cfg.MQTT != nil {
		return st.SetMQTTConfig(*cfg.MQTT)
	}
	return nil
}

func serve(ctx context.Context, c *cli.Context) error {
	cfg := configFrom(c)
	if l := c.String("listen"); l != "" {
		cfg.Listen = l
	}
	logger := log.StandardLogger()
	logger.Info("astrobridge server")

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := seedStore(st, cfg); err != nil {
		return fmt.Errorf("failed to store configuration: %v", err)
	}
	extra, err := targetServers(c)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	f := newFacade(cfg,
		facade.WithAlpacaOptions(alpaca.WithObserver(m)),
		facade.WithINDIOptions(indiclient.WithObserver(m)),
	)
	defer f.Close()
	f.RegisterEventCallback(m.ObserveEvent)

	hub := eventbridge.NewWSHub(logger)
	go hub.Run(ctx)
	defer hub.Stop()
	f.RegisterEventCallback(hub.Publish)

	mqttCfg, err := st.MQTTConfig()
	if err != nil {
		return fmt.Errorf("failed to get MQTT config: %v", err)
	}
	if mqttCfg.Enabled {
		client, err := eventbridge.NewMQTTClient(mqttCfg)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		bridge := eventbridge.NewMQTTBridge(client, f, mqttCfg, logger)
		if err := bridge.Start(); err != nil {
			return err
		}
		defer bridge.Stop()
	}

	// Servers given on the command line are attached but not stored.
	if len(c.StringSlice("server")) > 0 {
		for _, s := range extra {
			if err := f.ConnectServer(ctx, s.Backend, s.Host, s.Port); err != nil {
				logger.Warnf("Skipping %s server %s: %v", s.Backend, s.Address(), err)
			}
		}
	}
	n, err := f.LoadProfiles(ctx, st)
	if err != nil {
		logger.Warnf("Loading profiles: %v", err)
	}
	logger.Infof("Attached %d stored servers, %d devices", n, len(f.GetDevices()))

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}
	server := api.NewServer(f, st, tmpl,
		api.WithEvents(hub),
		api.WithMetrics(metrics.Handler(reg)),
		api.WithLogger(logger),
	)
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.AddRoutes(),
	}
	if err := api.ListenAndServe(ctx, srv, logger); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
