// Command closet-nfc runs the closet NFC agent: Web NFC phones connect to it
// as readers, and the closet UI drives read and write sessions and tag
// lookups over its HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotside-studios/closet-nfc/buildinfo"
	"github.com/dotside-studios/closet-nfc/config"
	"github.com/dotside-studios/closet-nfc/nfc"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
	dsn        string
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dsn != "" {
		cfg.Database.DSN = o.dsn
	}
	return cfg, cfg.Validate()
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           buildinfo.Name,
		Short:         buildinfo.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.dsn, "db", "", "database DSN (overrides database.dsn)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTagsCommand(opts))
	cmd.AddCommand(newGarmentsCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		noTLS  bool
		noMDNS bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if noTLS {
				cfg.Server.TLS.Enabled = false
			}
			if noMDNS {
				cfg.Server.MDNS = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			agent, err := NewAgent(ctx, cfg)
			if err != nil {
				return err
			}
			defer agent.Close()
			return agent.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noTLS, "no-tls", false, "serve plain HTTP; Web NFC then only works from localhost")
	cmd.Flags().BoolVar(&noMDNS, "no-mdns", false, "do not advertise the agent over mDNS")
	return cmd
}

func newTagsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Generate, find and unbind tag identifiers",
	}

	var count int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Print fresh tag identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			for range count {
				fmt.Fprintln(cmd.OutOrStdout(), nfc.GenerateIdentifier())
			}
			return nil
		},
	}
	generate.Flags().IntVarP(&count, "count", "n", 1, "number of identifiers")

	find := &cobra.Command{
		Use:   "find <tag-id>",
		Short: "Show the garment or box a tag is bound to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), opts, func(b *backend) error {
				a, err := b.catalog.FindEntityByTag(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("tag %s: %w", nfc.Normalize(args[0]), err)
				}
				return printJSON(cmd.OutOrStdout(), a)
			})
		},
	}

	unbind := &cobra.Command{
		Use:   "unbind <garment|box> <id>",
		Short: "Remove the tag from a garment or box",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := nfc.EntityType(args[0])
			if !entityType.Valid() {
				return fmt.Errorf("unknown entity type %q: must be garment or box", args[0])
			}
			return withBackend(cmd.Context(), opts, func(b *backend) error {
				removed, err := b.catalog.RemoveEntityNFCTag(cmd.Context(), entityType, args[1])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no %s with id %s", entityType.Label(), args[1])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed tag from %s %s\n", entityType.Label(), args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(generate, find, unbind)
	return cmd
}

func newGarmentsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "garments",
		Short: "Catalog lookups",
	}
	lookup := &cobra.Command{
		Use:   "lookup <codes...>",
		Short: "Find garments by NFC tag or barcode",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), opts, func(b *backend) error {
				res, err := b.catalog.BatchLookup(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.AddCommand(lookup)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}

func withBackend(ctx context.Context, opts *rootOptions, fn func(*backend) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
