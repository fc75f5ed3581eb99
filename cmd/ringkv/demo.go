package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cdesiniotis/ringkv"
	"github.com/spf13/cobra"
)

type demoRecord struct {
	name, mail       string
	socialID, secret string
}

var demoRegions = []struct {
	name  string
	peers int
}{
	{"Delhi", 3},
	{"Mumbai", 2},
	{"Banglore", 4},
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run an in-process walk-through over three regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDemo(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

// demoConfig replaces the configured regions with the demo topology.
func demoConfig(base *ringkv.Config) *ringkv.Config {
	cfg := *base
	cfg.Regions = nil
	for _, r := range demoRegions {
		rc := ringkv.RegionConfig{Name: r.name}
		for i := 0; i < r.peers; i++ {
			rc.Peers = append(rc.Peers, ringkv.PeerConfig{Label: r.name + "-" + strconv.Itoa(i)})
		}
		cfg.Regions = append(cfg.Regions, rc)
	}
	return &cfg
}

func runDemo(ctx context.Context, base *ringkv.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fed, err := ringkv.BuildFederation(demoConfig(base), nil)
	if err != nil {
		return err
	}
	defer fed.Close()

	records := []demoRecord{
		{"Gurkirat", "gurkirat@gmail.com", "SOCIAL123", "pass123"},
		{"Gurkirat", "gurkirat@yahoo.com", "SOCIAL456", "word456"},
		{"Alice", "alice@europe.com", "SOCIAL789", "pwd789"},
	}
	var last ringkv.Placement
	for _, r := range records {
		pl, err := fed.Put(ctx, []string{r.name, r.mail}, []byte(r.socialID), []byte(r.secret))
		if err != nil {
			return err
		}
		if err := pl.Replication.Wait(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "Stored %s <%s> in region %s at %s\n", r.name, r.mail, pl.Region, pl.ServedBy.Label)
		last = pl
	}

	fmt.Fprintf(out, "\n--- Retrieving Data ---\n")
	lookups := [][2]string{
		{"Gurkirat", "gurkirat@gmail.com"},
		{"Ansh", "ansh@yahoo.com"},
		{"Gurkirat", "gurkirat@yahoo.com"},
		{"Alice", "alice@europe.com"},
	}
	for _, l := range lookups {
		if err := printLookup(ctx, fed, out, l[0], l[1]); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\n--- Failing %s in region %s ---\n", last.ServedBy.Label, last.Region)
	if _, err := fed.SetAlive(last.Region, last.ServedBy.Label, false); err != nil {
		return err
	}
	if err := printLookup(ctx, fed, out, "Alice", "alice@europe.com"); err != nil {
		return err
	}
	if _, err := fed.SetAlive(last.Region, last.ServedBy.Label, true); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n--- Rings ---\n")
	printRegions(out, fed.Snapshot())
	return nil
}

func printLookup(ctx context.Context, fed *ringkv.Federation, out io.Writer, name, mail string) error {
	rec, err := fed.Fetch(ctx, []string{name, mail})
	if errors.Is(err, ringkv.ErrNotFound) {
		fmt.Fprintf(out, "Data not found for %s <%s>\n", name, mail)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Data found in region %s (%s %s):\n", rec.Region, rec.Source, rec.ServedBy.Label)
	fmt.Fprintf(out, "User : %s\n", name)
	fmt.Fprintf(out, "   Social ID: %s\n", rec.Payloads[0])
	fmt.Fprintf(out, "   Password : %s\n", rec.Payloads[1])
	return nil
}

func printRegions(out io.Writer, regions []ringkv.RegionStatus) {
	for _, r := range regions {
		fmt.Fprintf(out, "region %s\n", r.Name)
		for _, p := range r.Peers {
			state := "up"
			if !p.Alive {
				state = "down"
			}
			fmt.Fprintf(out, "   %-12s key=%-20d %-4s items=%d\n", p.Label, p.RingKey, state, p.Items)
		}
	}
}
