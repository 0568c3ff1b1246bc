package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"astrobridge/pkg/facade"
	"astrobridge/pkg/store"
)

const configKey = "config"

func setup(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if d := c.Duration("timeout"); d > 0 {
		cfg.ConnectTimeout = d
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	if c.Bool("debug") {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetOutput(c.App.ErrWriter)

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) Config {
	if cfg, ok := c.App.Metadata[configKey].(Config); ok {
		return cfg
	}
	return defaultConfig()
}

// targetServers returns the servers named with --server, or the configured
// ones when the flag is absent.
func targetServers(c *cli.Context) ([]store.Server, error) {
	flags := c.StringSlice("server")
	if len(flags) == 0 {
		return configFrom(c).Servers, nil
	}
	out := make([]store.Server, 0, len(flags))
	for _, s := range flags {
		srv, err := parseServer(s)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

func newFacade(cfg Config, opts ...facade.Option) *facade.Facade {
	return facade.New(append([]facade.Option{
		facade.WithLogger(log.StandardLogger()),
		facade.WithConnectTimeout(cfg.ConnectTimeout),
		facade.WithINDIServers(cfg.indiAddresses()...),
	}, opts...)...)
}

// session attaches to the target servers. It fails only when none could be
// reached.
func session(c *cli.Context) (*facade.Facade, error) {
	servers, err := targetServers(c)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, errors.New("no server given: use --server or a config file")
	}
	cfg := configFrom(c)
	f := newFacade(cfg)

	ctx, cancel := context.WithTimeout(c.Context, cfg.ConnectTimeout)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := f.ConnectServer(ctx, srv.Backend, srv.Host, srv.Port); err != nil {
			log.Warnf("Skipping %s server %s: %v", srv.Backend, srv.Address(), err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(servers) {
		f.Close()
		return nil, errors.Join(errs...)
	}
	if len(f.GetDevices()) == 0 {
		// INDI drivers announce themselves after the handshake.
		time.Sleep(200 * time.Millisecond)
	}
	return f, nil
}

// connected opens a session and connects the named device.
func connected(c *cli.Context, name string) (*facade.Facade, error) {
	f, err := session(c)
	if err != nil {
		return nil, err
	}
	if err := f.ConnectDevice(name); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseValue reads a command line value as JSON, falling back to the raw
// string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func formatValue(v any) string {
	switch v.(type) {
	case string, fmt.Stringer, int, float64, bool:
		return fmt.Sprint(v)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() < n {
		return fmt.Errorf("usage: %s %s", c.Command.Name, usage)
	}
	return nil
}

var discoverCommand = &cli.Command{
	Name:  "discover",
	Usage: "Find Alpaca servers on the local network",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "wait", Usage: "How long to collect answers"},
	},
	Action: func(c *cli.Context) error {
		cfg := configFrom(c)
		wait := c.Duration("wait")
		if wait <= 0 {
			wait = cfg.DiscoveryTimeout
		}
		f := newFacade(cfg)
		defer f.Close()
		found, err := f.DiscoverServers(c.Context, wait)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c.App.Writer, found)
		}
		for _, s := range found {
			fmt.Fprintln(c.App.Writer, s)
		}
		return nil
	},
}

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List the devices of the attached servers",
	Action: func(c *cli.Context) error {
		f, err := session(c)
		if err != nil {
			return err
		}
		defer f.Close()
		devices := f.GetDevices()
		if c.Bool("json") {
			return printJSON(c.App.Writer, devices)
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tBACKEND\tSERVER\tSTATE")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Kind, d.Backend, d.Server, d.State)
		}
		return w.Flush()
	},
}

var propertiesCommand = &cli.Command{
	Name:      "properties",
	Usage:     "Read every property of a device",
	ArgsUsage: "<device>",
	Action: func(c *cli.Context) error {
		if err := requireArgs(c, 1, "<device>"); err != nil {
			return err
		}
		f, err := connected(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer f.Close()
		props, err := f.Properties(c.Args().Get(0))
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c.App.Writer, props)
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		for _, p := range props {
			access := "r"
			if p.Writable {
				access += "w"
			}
			if !p.Readable {
				access = "w"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, access, formatValue(p.Value))
		}
		return w.Flush()
	},
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "Read a device property",
	ArgsUsage: "<device> <property>",
	Action: func(c *cli.Context) error {
		if err := requireArgs(c, 2, "<device> <property>"); err != nil {
			return err
		}
		f, err := connected(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer f.Close()
		v, err := f.GetProperty(c.Args().Get(0), c.Args().Get(1))
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c.App.Writer, v)
		}
		fmt.Fprintln(c.App.Writer, formatValue(v.Value))
		return nil
	},
}

var setCommand = &cli.Command{
	Name:      "set",
	Usage:     "Write a device property or run a command property",
	ArgsUsage: "<device> <property> [value]",
	Action: func(c *cli.Context) error {
		if err := requireArgs(c, 2, "<device> <property> [value]"); err != nil {
			return err
		}
		f, err := connected(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer f.Close()
		var value any
		if c.NArg() > 2 {
			value = parseValue(strings.Join(c.Args().Slice()[2:], " "))
		}
		return f.SetProperty(c.Args().Get(0), c.Args().Get(1), value)
	},
}

var actionCommand = &cli.Command{
	Name:      "action",
	Usage:     "Run a driver-specific action",
	ArgsUsage: "<device> <action> [parameters]",
	Action: func(c *cli.Context) error {
		if err := requireArgs(c, 2, "<device> <action> [parameters]"); err != nil {
			return err
		}
		f, err := connected(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer f.Close()
		out, err := f.ExecuteAction(c.Args().Get(0), c.Args().Get(1), strings.Join(c.Args().Slice()[2:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, out)
		return nil
	},
}

func openStore(c *cli.Context) (*store.Store, error) {
	return store.Open(configFrom(c).Database)
}

var serversCommand = &cli.Command{
	Name:  "servers",
	Usage: "Manage the stored servers",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List stored servers",
			Action: func(c *cli.Context) error {
				st, err := openStore(c)
				if err != nil {
					return err
				}
				defer st.Close()
				servers, err := st.Servers()
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return printJSON(c.App.Writer, servers)
				}
				w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tBACKEND\tADDRESS\tAUTOCONNECT")
				for _, s := range servers {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s.Name, s.Backend, s.Address(), s.AutoConnect)
				}
				return w.Flush()
			},
		},
		{
			Name:      "add",
			Usage:     "Store a server",
			ArgsUsage: "<name> <backend://host:port>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "manual", Usage: "Do not connect when serving"},
			},
			Action: func(c *cli.Context) error {
				if err := requireArgs(c, 2, "<name> <backend://host:port>"); err != nil {
					return err
				}
				srv, err := parseServer(c.Args().Get(1))
				if err != nil {
					return err
				}
				srv.Name = c.Args().Get(0)
				srv.AutoConnect = !c.Bool("manual")
				st, err := openStore(c)
				if err != nil {
					return err
				}
				defer st.Close()
				return st.SaveServer(srv)
			},
		},
		{
			Name:      "remove",
			Usage:     "Forget a stored server",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				if err := requireArgs(c, 1, "<name>"); err != nil {
					return err
				}
				st, err := openStore(c)
				if err != nil {
					return err
				}
				defer st.Close()
				return st.DeleteServer(c.Args().Get(0))
			},
		},
	},
}
