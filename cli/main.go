package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DeafMist/tagme/internal/config"
	"github.com/DeafMist/tagme/internal/logger"
	"github.com/DeafMist/tagme/tagme"
)

var errNoResult = errors.New("tagme returned no result (see log for details)")

type app struct {
	token  string
	lang   string
	asJSON bool
	log    *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{log: logger.Discard()}

	root := &cobra.Command{
		Use:          "tagme",
		Short:        "Annotate text and score entity relatedness with TagMe",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.log = logger.NewTo(cmd.ErrOrStderr(), "cli")
		},
	}
	root.PersistentFlags().StringVar(&a.token, "token", "", "gcube token (default $TAGME_GCUBE_TOKEN)")
	root.PersistentFlags().StringVar(&a.lang, "lang", "", "Wikipedia language (default $TAGME_LANG)")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print the whole response as JSON")

	root.AddCommand(a.annotateCmd(), a.mentionsCmd(), a.relCmd(), normalizeCmd(), a.uriCmd())
	return root
}

func (a *app) client() (*tagme.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	tc := cfg.ClientConfig(a.log)
	if a.token != "" {
		tc.Token = a.token
	}
	if a.lang != "" {
		tc.Lang = a.lang
	}
	return tagme.New(tc)
}

func (a *app) annotateCmd() *cobra.Command {
	var (
		minRho   float64
		longText int
	)
	cmd := &cobra.Command{
		Use:     "annotate [text...]",
		Short:   "Link the entities mentioned in a text",
		Example: `tagme annotate --min-rho 0.1 "Obama visited the UK"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			var opts []tagme.CallOption
			if cmd.Flags().Changed("long-text") {
				opts = append(opts, tagme.WithLongText(longText))
			}
			resp, err := client.Annotate(cmd.Context(), text, opts...)
			if err != nil {
				return err
			}
			if resp == nil {
				return errNoResult
			}

			out := cmd.OutOrStdout()
			if a.asJSON {
				return printJSON(out, resp)
			}
			fmt.Fprintln(out, resp)
			for ann := range resp.EntriesAbove(minRho) {
				fmt.Fprintf(out, "%s\t%s\n", ann, ann.URI(resp.Lang))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minRho, "min-rho", 0, "only print annotations scoring above this")
	cmd.Flags().IntVar(&longText, "long-text", tagme.DefaultLongText, "long_text parameter sent to TagMe")
	return cmd
}

func (a *app) mentionsCmd() *cobra.Command {
	var minLP float64
	cmd := &cobra.Command{
		Use:   "mentions [text...]",
		Short: "Find the parts of a text that may mention an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			resp, err := client.FindMentions(cmd.Context(), text)
			if err != nil {
				return err
			}
			if resp == nil {
				return errNoResult
			}

			out := cmd.OutOrStdout()
			if a.asJSON {
				return printJSON(out, resp)
			}
			fmt.Fprintln(out, resp)
			for m := range resp.EntriesAbove(minLP) {
				fmt.Fprintln(out, m)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minLP, "min-lp", 0, "only print mentions with link probability above this")
	return cmd
}

func (a *app) relCmd() *cobra.Command {
	var byID bool
	cmd := &cobra.Command{
		Use:   "rel A B [A B...]",
		Short: "Score the relatedness of entity pairs",
		Long: "Each consecutive pair of arguments is one pair of entities, given as\n" +
			"Wikipedia titles or, with --ids, as Wikipedia page IDs.",
		Example: `tagme rel "Barack Obama" "United Kingdom" Italy Germany
tagme rel --ids 534366 31717`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected an even number of arguments, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			var resp *tagme.RelatednessResponse
			if byID {
				pairs, err := parseIDPairs(args)
				if err != nil {
					return err
				}
				resp, err = client.RelatednessByID(cmd.Context(), pairs)
				if err != nil {
					return err
				}
			} else {
				pairs := make([]tagme.TitlePair, 0, len(args)/2)
				for i := 0; i < len(args); i += 2 {
					pairs = append(pairs, tagme.TitlePair{A: args[i], B: args[i+1]})
				}
				resp, err = client.RelatednessByTitle(cmd.Context(), pairs)
				if err != nil {
					return err
				}
			}
			if resp == nil {
				return errNoResult
			}

			out := cmd.OutOrStdout()
			if a.asJSON {
				return printJSON(out, resp)
			}
			for _, rec := range resp.Records() {
				fmt.Fprintln(out, rec)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&byID, "ids", false, "arguments are Wikipedia page IDs")
	return cmd
}

func normalizeCmd() *cobra.Command {
	var inverse bool
	cmd := &cobra.Command{
		Use:   "normalize TITLE...",
		Short: "Print titles in canonical underscored form",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, title := range args {
				if inverse {
					fmt.Fprintln(cmd.OutOrStdout(), tagme.Denormalize(title))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), tagme.Normalize(title))
				}
			}
		},
	}
	cmd.Flags().BoolVar(&inverse, "inverse", false, "print the display form instead")
	return cmd
}

func (a *app) uriCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uri TITLE...",
		Short: "Print the Wikipedia URI of each title",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			lang := a.lang
			if lang == "" {
				lang = os.Getenv("TAGME_LANG")
			}
			for _, title := range args {
				fmt.Fprintln(cmd.OutOrStdout(), tagme.TitleToURI(title, lang))
			}
		},
	}
}

// readText joins args, or reads stdin when there are none or the only one is "-".
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		args = []string{string(data)}
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", errors.New("no text given")
	}
	return text, nil
}

func parseIDPairs(args []string) ([]tagme.IDPair, error) {
	ids := make([]int, len(args))
	for i, raw := range args {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid page id %q", raw)
		}
		ids[i] = id
	}
	pairs := make([]tagme.IDPair, 0, len(ids)/2)
	for i := 0; i < len(ids); i += 2 {
		pairs = append(pairs, tagme.IDPair{A: ids[i], B: ids[i+1]})
	}
	return pairs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
