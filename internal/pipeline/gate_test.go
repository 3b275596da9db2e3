package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jsonlnorm/pkg/contract"
)

func indexes(os []contract.Outcome) []int64 {
	out := make([]int64, 0, len(os))
	for _, o := range os {
		out = append(out, o.Index)
	}
	return out
}

func TestGateReleasesInOrder(t *testing.T) {
	g := newGate()

	ready, err := g.push(contract.Outcome{Index: 2})
	require.NoError(t, err)
	assert.Empty(t, ready)

	ready, err = g.push(contract.Outcome{Index: 1})
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.Equal(t, 2, g.pending())

	ready, err = g.push(contract.Outcome{Index: 0})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, indexes(ready))
	assert.Equal(t, 0, g.pending())

	ready, err = g.push(contract.Outcome{Index: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, indexes(ready))
}

func TestGateRejectsDuplicates(t *testing.T) {
	g := newGate()
	_, err := g.push(contract.Outcome{Index: 0})
	require.NoError(t, err)
	_, err = g.push(contract.Outcome{Index: 0})
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)

	_, err = g.push(contract.Outcome{Index: 5})
	require.NoError(t, err)
	_, err = g.push(contract.Outcome{Index: 5})
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
}
