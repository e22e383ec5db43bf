package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/xpath-healer/pkg/logger"
	"github.com/devicelab-dev/xpath-healer/pkg/repair"
)

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "Re-evaluate every locator of a page against its captured sources",
	ArgsUsage: "<page>",
	Description: `Evaluate each locator against the page source of its own state and platform
and report which ones no longer match. <page> is a page file or a store id.

Examples:
  xpath-healer check checkout.yaml
  xpath-healer check --save --fail-on-broken checkout`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "save",
			Usage: "Store the refreshed evaluation results",
		},
		&cli.BoolFlag{
			Name:  "fail-on-broken",
			Usage: "Exit with an error when any locator is broken",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print locators as JSON",
		},
	},
	Action: runCheck,
}

func runCheck(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one page is required")
	}
	ref := c.Args().First()
	start := time.Now()

	page, closePage, err := openPage(c, ref)
	if err != nil {
		return err
	}
	closePage()

	eng := newEngine(configFrom(c))
	defer eng.Close()
	page.Locators = eng.EvaluatePage(page, page.Locators)
	logger.Info("checked %d locators of %s in %s", len(page.Locators), page.ID, elapsed(start))

	var broken int
	if c.Bool("json") {
		if err := writeJSON(os.Stdout, page.Locators); err != nil {
			return err
		}
		for _, loc := range page.Locators {
			if repair.IsFailing(loc) {
				broken++
			}
		}
	} else {
		broken = printLocatorTable(os.Stdout, page.Locators)
	}

	if c.Bool("save") {
		if err := savePage(c, ref, page); err != nil {
			return fmt.Errorf("failed to save %s: %w", ref, err)
		}
	}
	if broken > 0 && c.Bool("fail-on-broken") {
		return fmt.Errorf("%d broken locator(s)", broken)
	}
	return nil
}
