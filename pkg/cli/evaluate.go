package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/xpath-healer/pkg/config"
	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/engine"
	"github.com/devicelab-dev/xpath-healer/pkg/notify"
)

var evaluateCommand = &cli.Command{
	Name:      "evaluate",
	Aliases:   []string{"eval"},
	Usage:     "Evaluate XPath expressions against a page source",
	ArgsUsage: "<xpath> [xpath...]",
	Description: `Evaluate one or more XPath expressions and print match counts and bounds.
The page source comes from --source, or from --page and --state.

Examples:
  xpath-healer evaluate --source login.xml -p android "//node[@text='Login']"
  xpath-healer evaluate --page checkout --state cart -p ios "//XCUIElementTypeButton"`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "source",
			Aliases: []string{"s"},
			Usage:   "XML page source file",
		},
		&cli.StringFlag{
			Name:  "page",
			Usage: "Snapshot page (file or store id)",
		},
		&cli.StringFlag{
			Name:  "state",
			Usage: "State id within --page",
		},
		&cli.StringFlag{
			Name:    "platform",
			Aliases: []string{"p"},
			Usage:   "Platform (ios, android)",
			Value:   "android",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print results as JSON",
		},
	},
	Action: runEvaluate,
}

func runEvaluate(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one XPath expression is required")
	}
	platform, ok := core.ParsePlatform(c.String("platform"))
	if !ok {
		return fmt.Errorf("unknown platform %q (ios or android)", c.String("platform"))
	}

	source, stateID, err := resolveSource(c, platform)
	if err != nil {
		return err
	}

	eng := newEngine(configFrom(c))
	defer eng.Close()
	eng.SetContext(source, stateID, platform)
	if !eng.HasDocument() {
		return core.ErrMalformedXML.WithDetails(map[string]interface{}{"state": stateID})
	}

	results := make([]core.EvaluationResult, 0, c.NArg())
	for _, expr := range c.Args().Slice() {
		results = append(results, eng.Evaluate(expr, engine.EvaluateOptions{Immediate: true}))
	}

	if c.Bool("json") {
		return writeJSON(os.Stdout, results)
	}
	for _, r := range results {
		printResult(r)
	}
	return nil
}

func resolveSource(c *cli.Context, platform core.Platform) (source, stateID string, err error) {
	if path := c.String("source"); path != "" {
		data, err := os.ReadFile(path) //#nosec G304 -- user-provided page source
		if err != nil {
			return "", "", err
		}
		return string(data), path, nil
	}

	ref, state := c.String("page"), c.String("state")
	if ref == "" || state == "" {
		return "", "", fmt.Errorf("either --source or both --page and --state are required")
	}
	page, closeFn, err := openPage(c, ref)
	if err != nil {
		return "", "", err
	}
	defer closeFn()
	v, err := page.Lookup(state, platform)
	if err != nil {
		return "", "", err
	}
	return v.PageSource, state, nil
}

func printResult(r core.EvaluationResult) {
	status, c := resultStatus(r)
	fmt.Printf("%s%-9s%s %s%s%s\n", color(c), status, color(colorReset), color(colorBold), r.XPathExpression, color(colorReset))
	if r.Error != "" {
		fmt.Printf("          %s%s%s\n", color(colorRed), r.Error, color(colorReset))
		return
	}
	fmt.Printf("          %d match(es)\n", r.NumberOfMatches)
	for _, n := range r.MatchingNodes {
		bounds := "no bounds"
		if b := n.Bounds; b != nil {
			bounds = fmt.Sprintf("[%d,%d][%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
		}
		fmt.Printf("          %s#%d%s %-40s %s\n", color(colorGray), n.Index, color(colorReset), truncate(n.Tag, 40), bounds)
	}
}

// newEngine builds an engine with the configured timings.
func newEngine(cfg *config.Config) *engine.Engine {
	e := cfg.Engine
	return engine.New(engine.Options{
		SoftRecovery: e.SoftRecovery,
		HardRecovery: e.HardRecovery,
		Windows: notify.Windows{
			Highlights:         e.HighlightsDebounce,
			EvaluationComplete: e.CompleteDebounce,
			Default:            e.DefaultDebounce,
			Redundant:          e.RedundantWindow,
			Frame:              e.FrameInterval,
		},
	})
}

// elapsed is used by commands that report their own timing.
func elapsed(start time.Time) string {
	return formatDuration(time.Since(start))
}
