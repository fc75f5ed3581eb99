package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cdesiniotis/ringkv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

func loadConfig() (*ringkv.Config, error) {
	if err := ringkv.ReadConfigFile(v, cfgFile); err != nil {
		return nil, err
	}
	cfg, err := ringkv.ConfigFromViper(v)
	if err != nil {
		return nil, err
	}
	if err := ringkv.ConfigureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ringkv",
		Short:         "Consistent-hashing key-value store simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	flags.String("listen", "", "server address")
	flags.String("log-level", "", "log level")
	flags.Duration("timeout", 0, "request timeout")
	_ = v.BindPFlag("listen", flags.Lookup("listen"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("timeout", flags.Lookup("timeout"))

	root.AddCommand(
		newServeCmd(),
		newPutCmd(),
		newGetCmd(),
		newLivenessCmd("down", false),
		newLivenessCmd("up", true),
		newStatusCmd(),
		newDemoCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the configured regions and serve them over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fed, err := ringkv.BuildFederation(cfg, nil)
			if err != nil {
				return err
			}
			defer fed.Close()

			lis, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("error creating listening socket: %w", err)
			}
			srv := ringkv.NewServer(fed, cfg.Timeout)

			signalChannel := make(chan os.Signal, 1)
			signal.Notify(signalChannel, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			go func() {
				<-signalChannel
				srv.Stop()
			}()

			for _, r := range fed.Snapshot() {
				log.WithFields(log.Fields{"region": r.Name, "peers": len(r.Peers)}).Info("region ready")
			}
			return srv.Serve(lis)
		},
	}
}

func dialClient() (*ringkv.Client, *ringkv.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := ringkv.Dial(cfg.Listen, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

func newPutCmd() *cobra.Command {
	var region, entry string
	cmd := &cobra.Command{
		Use:   "put <name> <mail> <payload>...",
		Short: "Store a record identified by name and mail",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := dialClient()
			if err != nil {
				return err
			}
			defer client.Close()

			key := ringkv.NewKeySpace(nil).ItemKey(args[0], args[1])
			payloads := make([][]byte, 0, len(args)-2)
			for _, a := range args[2:] {
				payloads = append(payloads, []byte(a))
			}

			resp, err := client.Store(context.Background(), region, entry, key, payloads...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored key %d in region %s at %s (hops %d)\n",
				key, resp.Region, resp.ServedBy.Label, resp.Hops)
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region (default: chosen by key)")
	cmd.Flags().StringVar(&entry, "entry", "", "entry peer label (default: first alive)")
	return cmd
}

func newGetCmd() *cobra.Command {
	var region, entry string
	cmd := &cobra.Command{
		Use:   "get <name> <mail>",
		Short: "Read a record identified by name and mail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := dialClient()
			if err != nil {
				return err
			}
			defer client.Close()

			key := ringkv.NewKeySpace(nil).ItemKey(args[0], args[1])
			resp, err := client.Get(context.Background(), region, entry, key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key %d in region %s served by %s (%s)\n",
				key, resp.Region, resp.ServedBy.Label, resp.Source)
			for i, p := range resp.Payloads {
				fmt.Fprintf(out, "   payload %d: %s\n", i, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region (default: chosen by key)")
	cmd.Flags().StringVar(&entry, "entry", "", "entry peer label (default: first alive)")
	return cmd
}

func newLivenessCmd(use string, alive bool) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   use + " <peer>",
		Short: "Mark a peer " + use,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := dialClient()
			if err != nil {
				return err
			}
			defer client.Close()

			changed, err := client.SetLiveness(context.Background(), region, args[0], alive)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already %s\n", args[0], use)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked %s\n", args[0], use)
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region of the peer")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print every region's ring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := dialClient()
			if err != nil {
				return err
			}
			defer client.Close()

			regions, err := client.Snapshot(context.Background())
			if err != nil {
				return err
			}
			printRegions(cmd.OutOrStdout(), regions)
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
