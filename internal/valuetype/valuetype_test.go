package valuetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerceBoolTristate(t *testing.T) {
	assert.Equal(t, True, CoerceBoolTristate(true))
	assert.Equal(t, False, CoerceBoolTristate(false))
	assert.Equal(t, False, CoerceBoolTristate(float64(0)))
	assert.Equal(t, True, CoerceBoolTristate(float64(1)))
	assert.Equal(t, Unknown, CoerceBoolTristate(float64(7)))
	assert.Equal(t, True, CoerceBoolTristate("on"))
	assert.Equal(t, False, CoerceBoolTristate("No"))
	assert.Equal(t, Unknown, CoerceBoolTristate("maybe"))
	assert.Equal(t, Unknown, CoerceBoolTristate(nil))
}

func TestAndTristate(t *testing.T) {
	assert.Equal(t, False, AndTristate([]Tristate{True, False, Unknown}))
	assert.Equal(t, Unknown, AndTristate([]Tristate{True, Unknown}))
	assert.Equal(t, True, AndTristate([]Tristate{True, True}))
	assert.Equal(t, Unknown, AndTristate(nil))
}

func TestFormatMMSS(t *testing.T) {
	assert.Equal(t, "1:05", FormatMMSS(65))
	assert.Equal(t, "0:00", FormatMMSS(0))
	assert.Equal(t, "10:00", FormatMMSS(600))
}

func TestFirstGoodNumeric(t *testing.T) {
	v, ok := FirstGoodNumeric([]interface{}{"bad", nil, "12.5"})
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)

	_, ok = FirstGoodNumeric([]interface{}{"bad", nil})
	assert.False(t, ok)
}
