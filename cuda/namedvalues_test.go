package cuda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedValues(t *testing.T) {
	options := NamedValuesMap{
		"str":            "blah",
		"int64Value":     int64(7),
		"int64Array":     []int64{11, 13, 17},
		"float32":        float32(19),
		"bool":           true,
		"invalidTypeKey": complex64(1), // Type not supported.
	}
	require.ErrorContains(t, options.validate(), "invalidTypeKey")
	delete(options, "invalidTypeKey")
	require.NoError(t, options.validate())

	value, err := options.getBool("bool", false)
	require.NoError(t, err)
	assert.True(t, value)
	value, err = options.getBool("missing", true)
	require.NoError(t, err)
	assert.True(t, value)
	_, err = options.getBool("str", false)
	require.ErrorContains(t, err, "must be a bool")

	i, err := options.getInt64("int64Value", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), i)
	_, err = options.getInt64("float32", 0)
	require.Error(t, err)

	assert.Equal(t, []string{"int64Array", "int64Value", "str"}, options.unknownKeys([]string{"bool", "float32"}))

	// A nil map is valid and has no options.
	var empty NamedValuesMap
	require.NoError(t, empty.validate())
	assert.Empty(t, empty.unknownKeys(knownOptions))
}
