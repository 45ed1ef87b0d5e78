package router_test

import (
	"testing"

	"github.com/goliatone/go-exchange/router"
	"github.com/stretchr/testify/assert"
)

func TestTable_ExactBeatsPattern(t *testing.T) {
	table := router.NewTable[string]()
	table.Add("direct:orders.#", "catch-all")
	table.Add("direct:orders.created", "created")

	got, ok := table.Lookup("direct:orders.created")
	assert.True(t, ok)
	assert.Equal(t, "created", got)

	got, ok = table.Lookup("direct:orders.deleted")
	assert.True(t, ok)
	assert.Equal(t, "catch-all", got)

	_, ok = table.Lookup("seda:orders.created")
	assert.False(t, ok)
}

func TestTable_MostSpecificPatternWins(t *testing.T) {
	table := router.NewTable[string]()
	table.Add("direct:#", "any")
	table.Add("direct:orders.*", "one")
	table.Add("direct:orders.*.eu", "eu")

	got, _ := table.Lookup("direct:orders.created.eu")
	assert.Equal(t, "eu", got)
	got, _ = table.Lookup("direct:orders.created")
	assert.Equal(t, "one", got)
	got, _ = table.Lookup("direct:users")
	assert.Equal(t, "any", got)

	assert.Equal(t, []string{"direct:orders.*.eu", "direct:orders.*", "direct:#"}, table.Patterns())
}

func TestTable_AddReplacesAndRemove(t *testing.T) {
	table := router.NewTable[int]()
	first := table.Add("direct:a.*", 1)
	second := table.Add("direct:a.*", 2)
	assert.Equal(t, 1, table.Len())

	got, _ := table.Lookup("direct:a.b")
	assert.Equal(t, 2, got)

	first.Remove()
	assert.Equal(t, 1, table.Len(), "a replaced route does not remove its successor")

	second.Remove()
	assert.Equal(t, 0, table.Len())
	_, ok := table.Lookup("direct:a.b")
	assert.False(t, ok)

	exact := table.Add("direct:x", 3)
	assert.Equal(t, "direct:x", exact.Pattern())
	exact.Remove()
	assert.Equal(t, 0, table.Len())
}

func TestTable_WithSeparator(t *testing.T) {
	table := router.NewTable[string](router.WithSeparator("/"))
	table.Add("http:api/*/users", "users")

	got, ok := table.Lookup("http:api/v2/users")
	assert.True(t, ok)
	assert.Equal(t, "users", got)
}
