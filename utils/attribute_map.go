package utils

import (
	"github.com/pkg/errors"
)

// AttributeMap is a convenience wrapper for pulling out typed information from a map.
type AttributeMap map[string]interface{}

// Has returns whether or not the given name is in the map.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// String returns a string attribute, or an error if it is present but not a string.
func (am AttributeMap) String(name string) (string, error) {
	x, has := am[name]
	if !has || x == nil {
		return "", nil
	}
	s, ok := x.(string)
	if !ok {
		return "", errors.Errorf("wanted a string for (%s) but got (%v) %T", name, x, x)
	}
	return s, nil
}

// Float64 returns a numeric attribute as a float64 or the given default when absent.
func (am AttributeMap) Float64(name string, def float64) (float64, error) {
	x, has := am[name]
	if !has {
		return def, nil
	}
	switch v := x.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, errors.Errorf("wanted a number for (%s) but got (%v) %T", name, x, x)
	}
}

// Int returns a numeric attribute as an int or the given default when absent.
func (am AttributeMap) Int(name string, def int) (int, error) {
	x, has := am[name]
	if !has {
		return def, nil
	}
	switch v := x.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		// json numbers decode to float64
		if v != float64(int(v)) {
			return 0, errors.Errorf("wanted an int for (%s) but got (%v)", name, x)
		}
		return int(v), nil
	default:
		return 0, errors.Errorf("wanted an int for (%s) but got (%v) %T", name, x, x)
	}
}
