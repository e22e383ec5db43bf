package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

func samplePage() *Page {
	return &Page{
		ID:   "checkout",
		Name: "Checkout",
		States: []State{
			{
				ID:   "cart",
				Name: "Cart",
				Versions: map[string]Version{
					"Android": {ScreenShot: "cart-android.png", PageSource: "<hierarchy/>"},
					"ios":     {ScreenShot: "cart-ios.png", PageSource: "<AppiumAUT/>"},
				},
			},
			{
				ID:       "payment",
				Versions: map[string]Version{"android": {PageSource: "<hierarchy><node/></hierarchy>"}},
			},
		},
		Locators: []core.Locator{
			{ID: "l1", StateID: "cart", Platform: core.PlatformAndroid, Name: "pay",
				XPath: core.EvaluationResult{XPathExpression: "//node[@text='Pay']", NumberOfMatches: 1, IsValid: true, Success: true}},
			{ID: "l2", StateID: "payment", Platform: core.PlatformAndroid, Name: "card"},
		},
	}
}

func TestLookup(t *testing.T) {
	p := samplePage()

	v, err := p.Lookup("cart", core.PlatformIOS)
	require.NoError(t, err)
	assert.Equal(t, "<AppiumAUT/>", v.PageSource)

	// Case-insensitive fallback on the platform key.
	v, err = p.Lookup("cart", core.PlatformAndroid)
	require.NoError(t, err)
	assert.Equal(t, "cart-android.png", v.ScreenShot)

	_, err = p.Lookup("missing", core.PlatformAndroid)
	assert.True(t, errors.Is(err, core.ErrMissingStateData))

	_, err = p.Lookup("payment", core.PlatformIOS)
	assert.True(t, errors.Is(err, core.ErrMissingPlatformVersion))
}

func TestLookupPrefersExactKey(t *testing.T) {
	st := State{ID: "s", Versions: map[string]Version{
		"ANDROID": {PageSource: "upper"},
		"android": {PageSource: "exact"},
	}}
	v, ok := st.Version("android")
	require.True(t, ok)
	assert.Equal(t, "exact", v.PageSource)
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"checkout.yaml", "checkout.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveFile(path, samplePage()))

			got, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "checkout", got.ID)
			require.Len(t, got.States, 2)
			assert.Equal(t, "<hierarchy/>", got.States[0].Versions["Android"].PageSource)
			require.Len(t, got.Locators, 2)
			assert.Equal(t, "//node[@text='Pay']", got.Locators[0].Expression())
		})
	}
}

func TestLoadFileDefaultsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.yaml")
	yml := `states:
  - id: home
    versions:
      android:
        pageSource: "<hierarchy/>"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "login", p.ID)
	_, err = p.Lookup("home", core.PlatformAndroid)
	assert.NoError(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, core.ErrSnapshotNotFound))
}

func TestDirLoadPage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveFile(filepath.Join(dir, "checkout.yml"), samplePage()))

	var src Source = Dir{Path: dir}
	p, err := src.LoadPage(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Len(t, p.States, 2)

	_, err = src.LoadPage(context.Background(), "other")
	assert.True(t, errors.Is(err, core.ErrSnapshotNotFound))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePage(ctx, samplePage()))

	got, err := s.LoadPage(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "Checkout", got.Name)
	require.Len(t, got.States, 2)
	assert.Equal(t, "cart", got.States[0].ID)
	assert.Equal(t, "payment", got.States[1].ID)
	assert.Equal(t, "cart-ios.png", got.States[0].Versions["ios"].ScreenShot)

	require.Len(t, got.Locators, 2)
	assert.Equal(t, "l1", got.Locators[0].ID)
	assert.Equal(t, 1, got.Locators[0].XPath.NumberOfMatches)

	v, err := got.Lookup("payment", core.PlatformAndroid)
	require.NoError(t, err)
	assert.Equal(t, "<hierarchy><node/></hierarchy>", v.PageSource)
}

func TestStoreSaveReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := samplePage()
	require.NoError(t, s.SavePage(ctx, p))
	p.States = p.States[:1]
	p.Locators = p.Locators[:1]
	require.NoError(t, s.SavePage(ctx, p))

	got, err := s.LoadPage(ctx, "checkout")
	require.NoError(t, err)
	assert.Len(t, got.States, 1)
	assert.Len(t, got.Locators, 1)
}

func TestStoreLocatorsAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePage(ctx, samplePage()))

	updated := []core.Locator{{ID: "l9", StateID: "cart", Platform: core.PlatformIOS, OriginalXPath: "//old"}}
	require.NoError(t, s.SaveLocators(ctx, "checkout", updated))

	locs, err := s.LoadLocators(ctx, "checkout")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "//old", locs[0].OriginalXPath)

	pages, err := s.ListPages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].States)
	assert.Equal(t, 1, pages[0].Locators)
}

func TestStoreNotFoundAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.LoadPage(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrSnapshotNotFound))

	require.NoError(t, s.SavePage(ctx, samplePage()))
	require.NoError(t, s.DeletePage(ctx, "checkout"))

	var n int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM versions`).Scan(&n))
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(s.DeletePage(ctx, "checkout"), core.ErrSnapshotNotFound))
}
