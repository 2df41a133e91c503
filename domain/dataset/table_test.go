package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableColumnsAndSubset(t *testing.T) {
	table, err := NewTable([]string{" County", "Traffic "}, [][]string{
		{"Alameda", "61.2"},
		{"Butte"},
		{"Colusa", " 12 "},
	})
	require.NoError(t, err)

	traffic, err := table.Column("Traffic")
	require.NoError(t, err)
	assert.Equal(t, []string{"61.2", "", "12"}, traffic)

	_, err = table.Column("Ozone")
	assert.Error(t, err)

	sub := table.Subset([]int{2, 0})
	assert.Equal(t, 2, sub.Len())
	county, err := sub.Column("County")
	require.NoError(t, err)
	assert.Equal(t, []string{"Colusa", "Alameda"}, county)
}

func TestNewTableRejectsDuplicateHeaders(t *testing.T) {
	_, err := NewTable([]string{"A", "A"}, nil)
	assert.Error(t, err)
}

func TestParseNumber(t *testing.T) {
	v, ok := ParseNumber(" 3.5 ")
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)

	for _, missing := range []string{"", "NA", "nan", "n/a", "abc"} {
		_, ok := ParseNumber(missing)
		assert.False(t, ok, missing)
	}
}

func TestDiscreteAppendValidatesRange(t *testing.T) {
	d := NewDiscrete([]string{"A", "B"}, map[string]int{"A": 2, "B": 3})
	require.NoError(t, d.Append([]int{1, 2}))
	assert.Error(t, d.Append([]int{2, 0}))
	assert.Error(t, d.Append([]int{0}))
	assert.Equal(t, 1, d.Len())

	off, ok := d.Offset("B")
	assert.True(t, ok)
	assert.Equal(t, 1, off)
}
