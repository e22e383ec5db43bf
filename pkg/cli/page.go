package cli

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/xpath-healer/pkg/snapshot"
)

// isFile reports whether ref names an existing page file rather than a store id.
func isFile(ref string) bool {
	info, err := os.Stat(ref)
	return err == nil && !info.IsDir()
}

func openStore(c *cli.Context) (*snapshot.Store, error) {
	return snapshot.Open(configFrom(c).Store)
}

// openPage loads a page from a file or, failing that, from the store.
func openPage(c *cli.Context, ref string) (*snapshot.Page, func(), error) {
	if isFile(ref) {
		page, err := snapshot.LoadFile(ref)
		return page, func() {}, err
	}
	store, err := openStore(c)
	if err != nil {
		return nil, nil, err
	}
	page, err := store.LoadPage(c.Context, ref)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return page, func() { store.Close() }, nil
}

// savePage writes page back where openPage found it.
func savePage(c *cli.Context, ref string, page *snapshot.Page) error {
	if isFile(ref) {
		return snapshot.SaveFile(ref, page)
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SavePage(c.Context, page)
}
