package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/ignite/scrub-gateway/internal/client"
	"github.com/ignite/scrub-gateway/internal/domain"
)

var (
	gatewayURL string
	token      string
	tokenCmd   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "scrubctl",
	Short:        "Upload phone lists to the scrub gateway and fetch the results",
	SilenceUsage: true,
}

// newClient builds a client from the global flags. An explicit token wins
// over a token command.
func newClient(ctx context.Context) *client.Client {
	var ts oauth2.TokenSource
	switch {
	case token != "":
		ts = client.StaticToken(token)
	case tokenCmd != "":
		ts = client.CommandToken(ctx, strings.Fields(tokenCmd))
	}
	return client.New(gatewayURL, ts)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file with its column configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		var cfg domain.FileConfig
		if cfgPath != "" {
			data, err := os.ReadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
			if err := json.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parsing config %s: %w", cfgPath, err)
			}
		}
		if cols, _ := cmd.Flags().GetStringSlice("phone-column"); len(cols) > 0 {
			cfg.PhoneColumns = cols
		}
		if header, _ := cmd.Flags().GetBool("header"); cmd.Flags().Changed("header") {
			cfg.HasHeaderRow = header
		}
		if cfg.FileName == "" {
			cfg.FileName = filepath.Base(args[0])
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		id, err := newClient(cmd.Context()).Upload(cmd.Context(), cfg, filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the processing status of an upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd.Context())
		wait, _ := cmd.Flags().GetDuration("wait")
		deadline := time.Now().Add(wait)
		for {
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			done := st.Stage == domain.StageDone || st.Stage == domain.StageError
			if done || wait == 0 || time.Now().After(deadline) {
				fmt.Printf("%s\t%s\n", st.Stage, st.LastUpdated.Format(time.RFC3339))
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(5 * time.Second):
			}
		}
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download a categorized result (clean, invalid or dnc)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("type")
		cat, err := domain.ParseCategory(fileType)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")

		if out == "" || out == "-" {
			_, err := newClient(cmd.Context()).Download(cmd.Context(), args[0], cat, os.Stdout)
			return err
		}

		tmp, err := os.CreateTemp(filepath.Dir(out), ".scrubctl-*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())
		name, err := newClient(cmd.Context()).Download(cmd.Context(), args[0], cat, tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if err := os.Rename(tmp.Name(), out); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved %s as %s\n", name, out)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploads and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := newClient(cmd.Context()).List(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILE\tSTAGE\tUPDATED")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.FileName, r.Status.Stage, r.Status.LastUpdated.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func init() {
	defaultURL := os.Getenv("SCRUB_GATEWAY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "url", defaultURL, "gateway base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SCRUB_TOKEN"), "identity token sent as a bearer credential")
	rootCmd.PersistentFlags().StringVar(&tokenCmd, "token-cmd", "", `command printing an identity token, e.g. "gcloud auth print-identity-token"`)

	uploadCmd.Flags().StringP("config", "c", "", "JSON file with the file configuration")
	uploadCmd.Flags().StringSlice("phone-column", nil, "phone column name (repeatable)")
	uploadCmd.Flags().Bool("header", false, "the file has a header row")

	statusCmd.Flags().Duration("wait", 0, "poll until processing finishes or this long has passed")

	downloadCmd.Flags().StringP("type", "t", string(domain.CategoryClean), "result category: clean, invalid or dnc")
	downloadCmd.Flags().StringP("output", "o", "", "output path, stdout when empty")

	listCmd.Flags().Bool("json", false, "print raw JSON")

	rootCmd.AddCommand(uploadCmd, statusCmd, downloadCmd, listCmd)
}
