package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecret(t *testing.T) {
	assert.Equal(t, "sk***yz", Secret("key", "sk-abcdefxyz").Value.String())
	assert.Equal(t, "***", Secret("key", "short").Value.String())
	assert.Equal(t, "", Secret("key", "").Value.String())
}

func TestErr(t *testing.T) {
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Equal(t, "", Err(nil).Value.String())
	assert.Equal(t, "mod", Module("x").Key)
}
