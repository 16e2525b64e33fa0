package cuda

import (
	"slices"

	"github.com/pkg/errors"
)

// NamedValuesMap map names to option values. Only values of type string, int64, []int64, float32
// and bool are supported.
//
// It is used to configure a Client, see NewClient for the options recognized.
type NamedValuesMap map[string]any

// Options recognized by NewClient.
const (
	// OptionAllowEmptyArrays (bool, default false) allows arrays with a zero-sized dimension.
	// Such arrays hold no device memory.
	OptionAllowEmptyArrays = "allow_empty_arrays"

	// OptionDefaultSharedMemory (int64, default 0) is the dynamic shared memory, in bytes, used by
	// launches that don't configure it.
	OptionDefaultSharedMemory = "default_shared_memory"
)

var knownOptions = []string{OptionAllowEmptyArrays, OptionDefaultSharedMemory}

// validate checks that all values are of a supported type.
func (m NamedValuesMap) validate() error {
	for key, anyValue := range m {
		switch value := anyValue.(type) {
		case string, int64, []int64, float32, bool:
			// Supported.
		default:
			return errors.Errorf("option (NamedValueMap) %q was set to unsupported type %T (value=%v). "+
				"Only values of type string, int64, []int64, float32 and bool are supported.",
				key, value, value)
		}
	}
	return nil
}

// getBool returns the bool option key, or defaultValue if not set.
func (m NamedValuesMap) getBool(key string, defaultValue bool) (bool, error) {
	anyValue, found := m[key]
	if !found {
		return defaultValue, nil
	}
	value, ok := anyValue.(bool)
	if !ok {
		return defaultValue, errors.Errorf("option %q must be a bool, got %T", key, anyValue)
	}
	return value, nil
}

// getInt64 returns the int64 option key, or defaultValue if not set.
func (m NamedValuesMap) getInt64(key string, defaultValue int64) (int64, error) {
	anyValue, found := m[key]
	if !found {
		return defaultValue, nil
	}
	value, ok := anyValue.(int64)
	if !ok {
		return defaultValue, errors.Errorf("option %q must be an int64, got %T", key, anyValue)
	}
	return value, nil
}

// unknownKeys returns the keys not listed in known, sorted.
func (m NamedValuesMap) unknownKeys(known []string) []string {
	var unknown []string
	for key := range m {
		if !slices.Contains(known, key) {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	return unknown
}
