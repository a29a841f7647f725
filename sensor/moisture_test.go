package sensor

import (
	"fmt"
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestParseMoisture(t *testing.T) {
	t.Parallel()

	type Case struct {
		input     string
		expect    int32
		malformed bool
	}
	cases := []Case{
		{"42", 42, false},
		{"42\r\n", 42, false},
		{" \t42 \n", 42, false},
		{"0", 0, false},
		{"-17", -17, false},
		{"42.9", 42, false},
		{"-42.9", -42, false},
		{".5", 0, false},
		{"5.", 5, false},
		{"2147483647", math.MaxInt32, false},
		{"-2147483648", math.MinInt32, false},
		{"", 0, true},
		{"\r\n", 0, true},
		{"-", 0, true},
		{".", 0, true},
		{"4a2", 0, true},
		{"4 2", 0, true},
		{"4-2", 0, true},
		{"--4", 0, true},
		{"4.2.1", 0, true},
		{"+4", 0, true},
		{"42\x00", 0, true},
		{"2147483648", 0, true},
		{"-2147483649", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%q", c.input), func(t *testing.T) {
			t.Parallel()
			v, err := ParseMoisture([]byte(c.input))
			if c.malformed {
				assert.Equal(t, ErrMalformedSample, errors.Cause(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, c.expect, v)
		})
	}
}

func TestMoistureRoundTrip(t *testing.T) {
	t.Parallel()
	vs := []int32{0, 1, -1, 42, 999, -1000, math.MaxInt32, math.MinInt32}
	for v := int32(-5000); v < 5000; v += 37 {
		vs = append(vs, v)
	}
	for _, v := range vs {
		got, err := ParseMoisture(FormatMoisture(v))
		assert.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
