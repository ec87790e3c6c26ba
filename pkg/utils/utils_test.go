package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetDefault(t *testing.T) {
	var d time.Duration
	SetDefaultNum(&d, time.Second)
	assert.Equal(t, time.Second, d)
	SetDefaultNum(&d, time.Minute)
	assert.Equal(t, time.Second, d)

	n := -1
	SetDefaultNum(&n, 8)
	assert.Equal(t, 8, n)

	s := ""
	SetDefaultString(&s, "x")
	assert.Equal(t, "x", s)
	SetDefaultString(&s, "y")
	assert.Equal(t, "x", s)
}
