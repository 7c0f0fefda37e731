package gateway

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesMulticallABI(t *testing.T) {
	// New never touches the network before returning; a nil client is
	// safe here since it only exercises ABI parsing and default
	// listener/nonce-manager construction.
	gw, err := New(nil, common.Address{}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, gw)
}

func TestLeftPad32PadsShortInput(t *testing.T) {
	got := leftPad32([]byte{0x01, 0x02})
	require.Len(t, got, 32)
	assert.Equal(t, byte(0x01), got[30])
	assert.Equal(t, byte(0x02), got[31])
	for _, b := range got[:30] {
		assert.Equal(t, byte(0), b)
	}
}

func TestLeftPad32TruncatesLongInput(t *testing.T) {
	in := make([]byte, 40)
	for i := range in {
		in[i] = byte(i)
	}
	got := leftPad32(in)
	require.Len(t, got, 32)
	assert.Equal(t, in[8:], got)
}

func TestLeftPad32ExactLength(t *testing.T) {
	in := make([]byte, 32)
	in[0] = 0xff
	got := leftPad32(in)
	assert.Equal(t, in, got)
}
