package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/xpath-healer/pkg/snapshot"
)

var snapshotCommand = &cli.Command{
	Name:  "snapshot",
	Usage: "Manage the snapshot store",
	Subcommands: []*cli.Command{
		{
			Name:      "import",
			Usage:     "Import page files into the store",
			ArgsUsage: "<file> [file...]",
			Action:    runSnapshotImport,
		},
		{
			Name:      "export",
			Usage:     "Export a stored page to a YAML or JSON file",
			ArgsUsage: "<page-id> <file>",
			Action:    runSnapshotExport,
		},
		{
			Name:   "list",
			Usage:  "List stored pages",
			Action: runSnapshotList,
		},
		{
			Name:      "delete",
			Usage:     "Delete a stored page",
			ArgsUsage: "<page-id>",
			Action:    runSnapshotDelete,
		},
	},
}

func runSnapshotImport(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one page file is required")
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, path := range c.Args().Slice() {
		page, err := snapshot.LoadFile(path)
		if err != nil {
			return err
		}
		if err := store.SavePage(c.Context, page); err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}
		fmt.Printf("  %s✓%s %s (%d states, %d locators)\n",
			color(colorGreen), color(colorReset), page.ID, len(page.States), len(page.Locators))
	}
	return nil
}

func runSnapshotExport(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: snapshot export <page-id> <file>")
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	page, err := store.LoadPage(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}
	return snapshot.SaveFile(c.Args().Get(1), page)
}

func runSnapshotList(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	pages, err := store.ListPages(c.Context)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		fmt.Println("  No pages stored")
		return nil
	}
	fmt.Fprintf(os.Stdout, "  %-30s %-24s %6s %8s  %s\n", "ID", "Name", "States", "Locators", "Updated")
	fmt.Println("  " + strings.Repeat("─", 90))
	for _, p := range pages {
		fmt.Printf("  %-30s %-24s %6d %8d  %s\n",
			truncate(p.ID, 30), truncate(p.Name, 24), p.States, p.Locators, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSnapshotDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one page id is required")
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.DeletePage(c.Context, c.Args().First())
}
