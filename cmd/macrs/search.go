package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/retrieval"
)

var (
	searchK        int
	searchBrand    string
	searchCategory string
	searchMinPrice float64
	searchMaxPrice float64
)

// searchCmd runs a hybrid product search
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a hybrid product search",
	Long: `Search the product catalog with the same hybrid dense and full-text
ranking the Recommend agent uses.

Examples:
  macrs search --catalog products.json "trail running shoes"
  macrs search -k 10 --max-price 120 --brand acme "waterproof jacket"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.IntVarP(&searchK, "top-k", "k", 0, "number of results (default retrieval.top_k)")
	f.StringVar(&searchBrand, "brand", "", "brand substring filter")
	f.StringVar(&searchCategory, "category", "", "category substring filter")
	f.Float64Var(&searchMinPrice, "min-price", 0, "minimum price")
	f.Float64Var(&searchMaxPrice, "max-price", 0, "maximum price")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a := &app{}
	defer a.Close()
	llm, err := newLLM(cfg)
	if err != nil {
		return err
	}
	searcher, err := a.buildSearcher(cmd.Context(), cfg, llm)
	if err != nil {
		return err
	}

	q := retrieval.Query{
		Text: strings.Join(args, " "),
		K:    searchK,
		Filters: retrieval.Filters{
			Brand:    searchBrand,
			Category: searchCategory,
		},
	}
	if cmd.Flags().Changed("min-price") {
		q.Filters.PriceMin = &searchMinPrice
	}
	if cmd.Flags().Changed("max-price") {
		q.Filters.PriceMax = &searchMaxPrice
	}
	results, err := searcher.Search(cmd.Context(), q)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		printf(cmd, "no products found\n")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tTITLE\tPRICE\tSCORE\tDENSE\tSPARSE")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.3f\t%.3f\t%.3f\n",
			i+1, r.ProductID, r.Title, formatPrice(r.Product), r.CombinedScore, r.DenseScore, r.SparseScore)
	}
	return tw.Flush()
}

func formatPrice(p models.Product) string {
	if p.Price == nil {
		return "-"
	}
	if p.Currency == "" {
		return fmt.Sprintf("%.2f", *p.Price)
	}
	return fmt.Sprintf("%.2f %s", *p.Price, p.Currency)
}
