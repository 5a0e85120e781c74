package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-yanzi/internal/api"
	"github.com/nerrad567/gray-logic-yanzi/internal/bridges/yanzi"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/logging"
)

// defaultTokenTTL is the lifetime of tokens minted by the token command.
const defaultTokenTTL = 24 * time.Hour

// newLocationService loads the configuration and returns a location
// service that logs to stderr.
func newLocationService(cmd *cobra.Command, configPath string) (*yanzi.LocationService, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	svc, err := yanzi.NewLocationService(cfg.Yanzi)
	if err != nil {
		return nil, fmt.Errorf("creating location service: %w", err)
	}
	svc.SetLogger(logging.NewWithWriter(cfg.Logging, version, cmd.ErrOrStderr()).Component("cirrus"))
	return svc, nil
}

func locationsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "locations",
		Short: "List the locations visible to the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newLocationService(cmd, *configPath)
			if err != nil {
				return err
			}

			locations, err := svc.Locations(cmd.Context())
			if err != nil {
				return err
			}
			return printLocations(cmd.OutOrStdout(), locations)
		},
	}
}

// printLocations writes one "id  name" row per location, ordered by id.
func printLocations(w io.Writer, locations map[string]string) error {
	ids := make([]string, 0, len(locations))
	for id := range locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tNAME")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%s\n", id, locations[id])
	}
	return tw.Flush()
}

func sourcesCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the data sources of the configured location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newLocationService(cmd, *configPath)
			if err != nil {
				return err
			}

			sources, err := svc.DeviceSources(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sources)
			}
			return printSources(cmd.OutOrStdout(), sources)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sources as JSON")

	return cmd
}

// printSources writes one row per data source, ordered by key.
func printSources(w io.Writer, sources []yanzi.Source) error {
	sorted := append([]yanzi.Source(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tDEVICE\tVARIABLE\tKIND\tSAMPLE")
	for _, src := range sorted {
		kind := string(yanzi.KindOf(src.Variable))
		if kind == "" {
			kind = "-"
		}
		sample := "no"
		if src.HasSample() {
			sample = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", src.Key, src.DeviceName, src.Variable, kind, sample)
	}
	return tw.Flush()
}

func tokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token signed with security.jwt.secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			token, err := api.IssueToken(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")

	return cmd
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version)
				return
			}
			fmt.Fprintf(out, "yanzibridge %s\n", version)
			fmt.Fprintf(out, "  commit:     %s\n", commit)
			fmt.Fprintf(out, "  built:      %s\n", date)
			fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  os/arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")

	return cmd
}
