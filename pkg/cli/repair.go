package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/xpath-healer/pkg/config"
	"github.com/devicelab-dev/xpath-healer/pkg/repair"
)

var repairCommand = &cli.Command{
	Name:      "repair",
	Usage:     "Repair broken locators of a page with the repair service",
	ArgsUsage: "<page>",
	Description: `Re-evaluate the locators of a page, send the broken ones to the repair
service grouped by state and platform, validate the proposed expressions
against the captured page source and merge the winners.

The service endpoint comes from repair.endpoint in the config or --endpoint.
The API key is read from the environment variable named by repair.apiKeyEnv
(default XPATH_HEALER_API_KEY).

Examples:
  xpath-healer repair checkout.yaml
  xpath-healer repair --save --endpoint https://repair.internal/v1/fix checkout`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Repair service URL (overrides config)",
		},
		&cli.BoolFlag{
			Name:  "save",
			Usage: "Write the merged locators back to the page",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the run report as JSON",
		},
	},
	Action: runRepair,
}

func runRepair(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one page is required")
	}
	ref := c.Args().First()
	cfg := configFrom(c)

	endpoint := c.String("endpoint")
	if endpoint == "" {
		endpoint = cfg.Repair.Endpoint
	}
	if endpoint == "" {
		return fmt.Errorf("no repair endpoint configured (repair.endpoint or --endpoint)")
	}

	page, closePage, err := openPage(c, ref)
	if err != nil {
		return err
	}
	closePage()

	eng := newEngine(cfg)
	page.Locators = eng.EvaluatePage(page, page.Locators)
	eng.Close()

	pipeline, err := newPipeline(cfg, repair.NewHTTPClient(endpoint, cfg.APIKey(), cfg.Repair.Timeout))
	if err != nil {
		return err
	}
	report, merged, runErr := pipeline.Run(c.Context, page, page.Locators)
	page.Locators = merged

	if c.Bool("json") {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}
	if runErr != nil {
		return runErr
	}

	if c.Bool("save") {
		if err := savePage(c, ref, page); err != nil {
			return fmt.Errorf("failed to save %s: %w", ref, err)
		}
		fmt.Printf("\n  Saved %d locators to %s\n", len(page.Locators), ref)
	}
	return nil
}

func newPipeline(cfg *config.Config, client repair.Client) (*repair.Pipeline, error) {
	decoder, err := repair.NewDecoder()
	if err != nil {
		return nil, err
	}
	r := cfg.Repair
	runner := repair.NewRunner(client, decoder, repair.RunnerOptions{
		ChunkSize:         r.ChunkSize,
		MaxRetries:        r.MaxRetries,
		BaseDelay:         r.BaseDelay,
		MaxDelay:          r.MaxDelay,
		Concurrency:       r.Concurrency,
		RequestsPerSecond: r.RequestsPerSecond,
	})
	return repair.NewPipeline(runner, repair.NewValidator(nil)), nil
}

func printReport(r *repair.Report) {
	const width = 92
	fmt.Println()
	fmt.Printf("  %sRepair run %s%s\n", color(colorBold), r.RunID, color(colorReset))
	fmt.Println(strings.Repeat("═", width))
	fmt.Printf("  %-20s %-8s %-26s %5s %5s %5s %5s %5s\n", "State", "Platform", "Status", "Elems", "Kept", "Promo", "Fallb", "Placeh")
	fmt.Println(strings.Repeat("─", width))
	for _, g := range r.Groups {
		c := colorGreen
		if g.Status != repair.StatusComplete {
			c = colorYellow
		}
		fmt.Printf("  %-20s %-8s %s%-26s%s %5d %5d %5d %5d %5d\n",
			truncate(g.StateID, 20), g.Platform, color(c), g.Status, color(colorReset),
			g.Elements, g.Accepted, g.Promoted, g.Fallback, g.Placeholders)
	}
	fmt.Println(strings.Repeat("─", width))
	fmt.Printf("  %d failing, %d repaired in %s\n", r.Failing, r.Repaired, formatDuration(r.Duration))
	fmt.Println(strings.Repeat("═", width))
}
