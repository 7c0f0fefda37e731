package swapdecoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kptypes "github.com/eigenlabs/eigenkeeper/pkg/types"
)

func packSwapData(t *testing.T, d *Decoder, amount0, amount1 *big.Int) []byte {
	t.Helper()
	data, err := d.eventABI.Events["Swap"].Inputs.NonIndexed().Pack(
		amount0, amount1, big.NewInt(0), big.NewInt(0), big.NewInt(0),
	)
	require.NoError(t, err)
	return data
}

func swapLog(t *testing.T, d *Decoder, sender common.Address, amount0, amount1 *big.Int) kptypes.Log {
	t.Helper()
	recipient := common.HexToAddress("0x5555555555555555555555555555555555555555")
	return kptypes.Log{
		Topics: []common.Hash{d.topic, common.BytesToHash(sender.Bytes()), common.BytesToHash(recipient.Bytes())},
		Data:   packSwapData(t, d, amount0, amount1),
	}
}

func TestDecodeSwapReturnsBaseAmountWhenBaseIsToken1(t *testing.T) {
	d, err := New(false)
	require.NoError(t, err)

	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	log := swapLog(t, d, sender, big.NewInt(-500), big.NewInt(1000))

	gotSender, amount, err := d.DecodeSwap(log)
	require.NoError(t, err)
	assert.Equal(t, sender, gotSender)
	assert.Equal(t, big.NewInt(1000), amount)
}

func TestDecodeSwapReturnsBaseAmountWhenBaseIsToken0(t *testing.T) {
	d, err := New(true)
	require.NoError(t, err)

	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	log := swapLog(t, d, sender, big.NewInt(750), big.NewInt(-300))

	_, amount, err := d.DecodeSwap(log)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(750), amount)
}

func TestDecodeSwapReturnsZeroWhenBaseLegIsOutflow(t *testing.T) {
	d, err := New(false)
	require.NoError(t, err)

	sender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	log := swapLog(t, d, sender, big.NewInt(500), big.NewInt(-1000))

	_, amount, err := d.DecodeSwap(log)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), amount)
}

func TestDecodeSwapRejectsLogMissingIndexedTopics(t *testing.T) {
	d, err := New(false)
	require.NoError(t, err)

	_, _, err = d.DecodeSwap(kptypes.Log{Topics: []common.Hash{d.topic}})
	assert.Error(t, err)
}

func TestSwapEventTopicMatchesEventID(t *testing.T) {
	d, err := New(false)
	require.NoError(t, err)
	assert.Equal(t, d.eventABI.Events["Swap"].ID, d.SwapEventTopic())
}
