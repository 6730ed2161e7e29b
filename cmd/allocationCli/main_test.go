package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels([]string{"season=1", "chain=mainnet", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"season": "1", "chain": "mainnet", "note": "a=b"}, labels)

	labels, err = parseLabels(nil)
	require.NoError(t, err)
	assert.Nil(t, labels)

	_, err = parseLabels([]string{"novalue"})
	assert.Error(t, err)

	_, err = parseLabels([]string{"=x"})
	assert.Error(t, err)
}

func TestParseHashes(t *testing.T) {
	a := common.HexToHash("0x01")
	b := common.HexToHash("0xff")

	hashes, err := parseHashes([]string{a.Hex(), " ", b.Hex()})
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{a, b}, hashes)

	_, err = parseHashes([]string{"0x1234"})
	assert.Error(t, err)

	_, err = parseHashes([]string{"not-hex"})
	assert.Error(t, err)
}
