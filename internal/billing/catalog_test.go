package billing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCredits(t *testing.T) {
	c, err := LoadCatalog("", "test")
	require.NoError(t, err)

	cases := map[string]int{
		"basic":           50,
		"Advanced":        150,
		"ultimate":        999999,
		"starter":         80,
		"pro":             200,
		"Business":        1000,
		"Advanced Yearly": 150,
		"basic monthly":   50,
		"enterprise":      0,
	}
	for plan, want := range cases {
		assert.Equal(t, want, c.PlanCredits(plan), plan)
	}
}

func TestLookupHonorsMode(t *testing.T) {
	test, err := LoadCatalog("", "test")
	require.NoError(t, err)
	live, err := LoadCatalog("", "live")
	require.NoError(t, err)

	p, err := test.Lookup("price_test_pro")
	require.NoError(t, err)
	assert.Equal(t, KindOneTime, p.Kind)
	assert.Equal(t, "pro", p.Plan)

	_, err = test.Lookup("price_live_pro")
	require.ErrorIs(t, err, ErrUnknownPrice)

	p, err = live.Lookup("price_live_ultimate_yearly")
	require.NoError(t, err)
	assert.Equal(t, KindSubscription, p.Kind)
	assert.True(t, p.Annual)

	_, err = live.Lookup("")
	require.ErrorIs(t, err, ErrUnknownPrice)
}

func TestPlanForPrice(t *testing.T) {
	c, err := LoadCatalog("", "test")
	require.NoError(t, err)

	assert.Equal(t, "ultimate", c.PlanForPrice("price_live_ultimate_monthly", ""))
	assert.Equal(t, "advanced", c.PlanForPrice("price_unknown", "Advanced Monthly"))
	assert.Equal(t, DefaultSubscriptionPlan, c.PlanForPrice("price_unknown", "Mystery"))
}

func TestParseCatalogValidation(t *testing.T) {
	_, err := ParseCatalog([]byte(`plans: {basic: 50}
prices:
  test:
    - {id: price_a, plan: gold, kind: subscription}`), "test")
	require.Error(t, err)

	_, err = ParseCatalog([]byte(`plans: {basic: 50}
prices:
  test:
    - {id: price_a, plan: basic, kind: weekly}`), "test")
	require.Error(t, err)

	_, err = ParseCatalog([]byte(`plans: {basic: 50}
prices:
  test:
    - {id: price_a, plan: basic, kind: subscription}`), "live")
	require.Error(t, err)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`plans: {pro: 200}
prices:
  live:
    - {id: price_1Qz7mXYZ, plan: Pro, kind: one_time}`), 0o600))

	c, err := LoadCatalog(path, "live")
	require.NoError(t, err)
	p, err := c.Lookup("price_1Qz7mXYZ")
	require.NoError(t, err)
	assert.Equal(t, "pro", p.Plan)
	assert.Equal(t, "live", c.Mode())
}
