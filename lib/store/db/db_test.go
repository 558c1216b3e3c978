package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/stakewatch/lib/store/memory"
)

func TestNew(t *testing.T) {
	dh, err := New(MEMORY, "", "")
	require.NoError(t, err)
	assert.IsType(t, &memory.Memory{}, dh)
	assert.NoError(t, Close(MEMORY, dh))

	_, err = New("cassandra", "", "")
	assert.ErrorIs(t, err, ErrUnknownDB)
}
