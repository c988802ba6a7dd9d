package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/mswatii/pokedex-prices/internal/assistant"
	"github.com/mswatii/pokedex-prices/internal/catalog"
	"github.com/mswatii/pokedex-prices/internal/config"
	"github.com/mswatii/pokedex-prices/internal/database"
	"github.com/mswatii/pokedex-prices/internal/explorer"
	"github.com/mswatii/pokedex-prices/internal/logging"
	"github.com/mswatii/pokedex-prices/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel string
	limit    int

	cfg    config.Config
	logger *zap.Logger
	exp    *explorer.Explorer
	sess   *session.Session
)

var rootCmd = &cobra.Command{
	Use:           "tcgctl",
	Short:         "Browse trading card sets and market prices",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}

		cat, err := catalog.NewClient(cfg.Catalog, nil, logger.Named("catalog"))
		if err != nil {
			return err
		}
		var classifier explorer.Classifier
		if cfg.AssistantEnabled() {
			classifier = assistant.NewClassifier(cfg.Assistant, nil, logger.Named("assistant"))
		}
		exp = explorer.New(cat, classifier, nil, cfg.Explorer, logger.Named("explorer"))
		sess = session.New(cfg.Sessions)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List every set, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, err := exp.Sets(cmd.Context(), sess)
		if err != nil {
			return err
		}
		w := table(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tCODE\tNAME\tRELEASED\tCARDS")
		for _, s := range sets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", s.ID, s.Code, s.Name, s.ReleaseDate, s.CardCount)
		}
		return w.Flush()
	},
}

var cardsCmd = &cobra.Command{
	Use:   "cards <set>",
	Short: "List the priced cards of a set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		set, err := exp.FindSet(ctx, sess, strings.Join(args, " "))
		if err != nil {
			return err
		}
		batch, err := exp.SetCards(ctx, sess, set)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if err := printCards(out, batch.Cards, limit); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s: %d cards, %d priced, total $%s\n", set.Name, len(batch.Cards), batch.Priced, batch.Total.StringFixed(2))
		if batch.Partial {
			fmt.Fprintln(out, "warning: listing incomplete, some pages could not be fetched")
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Find every card for a Pokémon, most valuable first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cards, err := exp.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printCards(cmd.OutOrStdout(), cards, limit)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Ask a free-text question about sets and prices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answer, err := exp.Ask(cmd.Context(), sess, strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, answer.Message)
		if len(answer.Cards) > 0 {
			fmt.Fprintln(out)
			return printCards(out, answer.Cards, limit)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <set>",
	Short: "Show recorded daily values of a set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Database.Enabled() {
			return fmt.Errorf("history needs a database: set DB_HOST")
		}
		ctx := cmd.Context()
		set, err := exp.FindSet(ctx, sess, strings.Join(args, " "))
		if err != nil {
			return err
		}
		db, err := database.NewDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		snaps, err := db.SetHistory(ctx, set.Key(), limit)
		if err != nil {
			return err
		}
		w := table(cmd.OutOrStdout())
		fmt.Fprintln(w, "DATE\tCARDS\tPRICED\tTOTAL\tENRICHED")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%t\n", s.Date.Format("2006-01-02"), s.TotalCards, s.PricedCards, s.TotalValue, s.Enriched)
		}
		return w.Flush()
	},
}

func table(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

// printCards writes one row per card; n <= 0 prints them all
func printCards(out io.Writer, cards []explorer.PricedCard, n int) error {
	if n > 0 && len(cards) > n {
		cards = cards[:n]
	}
	w := table(out)
	fmt.Fprintln(w, "ID\tNUMBER\tNAME\tRARITY\tSET\tPRICE\tSOURCE")
	for _, pc := range cards {
		price := "-"
		if pc.Price > 0 {
			price = fmt.Sprintf("$%.2f", pc.Price)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			pc.Card.ID, pc.Card.CardNumber, pc.Card.Name, pc.Card.Rarity, pc.Card.SetName, price, pc.Source)
	}
	return w.Flush()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
	rootCmd.PersistentFlags().IntVarP(&limit, "limit", "n", 0, "maximum rows to print (0 for all)")
	rootCmd.AddCommand(setsCmd, cardsCmd, searchCmd, askCmd, historyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
