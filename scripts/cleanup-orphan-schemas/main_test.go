package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `tenant\_%`, likePrefix("tenant_"))
	assert.Equal(t, `a\%b\\%`, likePrefix(`a%b\`))
}
