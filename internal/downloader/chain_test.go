package downloader

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPersonas(n int) []Persona {
	out := make([]Persona, n)
	for i := range out {
		out[i] = Persona{Name: fmt.Sprintf("p%d", i)}
	}
	return out
}

func TestRunChainStopsAtFirstSuccess(t *testing.T) {
	for k := 0; k < 4; k++ {
		t.Run(fmt.Sprintf("succeeds at %d", k), func(t *testing.T) {
			calls := 0
			result, err := RunChain(context.Background(), nil, "test", testPersonas(4),
				func(_ context.Context, i int, p Persona) (string, error) {
					calls++
					if i < k {
						return "", fmt.Errorf("%s refused", p.Name)
					}
					return p.Name, nil
				})
			require.NoError(t, err)
			assert.Equal(t, k+1, calls)
			assert.Equal(t, k, result.Persona)
			assert.Equal(t, fmt.Sprintf("p%d", k), result.Value)
			assert.Len(t, result.Attempts, k)
		})
	}
}

func TestRunChainRecordsEveryFailureInOrder(t *testing.T) {
	sentinel := errors.New("blocked")
	_, err := RunChain(context.Background(), nil, "extract", testPersonas(3),
		func(_ context.Context, i int, _ Persona) (int, error) {
			if i == 1 {
				return 0, ErrEmptyResult
			}
			return 0, sentinel
		})

	var chainErr *ChainFailedError
	require.ErrorAs(t, err, &chainErr)
	require.Len(t, chainErr.Attempts, 3)
	for i, attempt := range chainErr.Attempts {
		assert.Equal(t, i, attempt.Index)
		assert.Equal(t, fmt.Sprintf("p%d", i), attempt.Persona)
	}
	assert.ErrorIs(t, chainErr.Attempts[0].Err, sentinel)
	assert.ErrorIs(t, chainErr.Attempts[1].Err, ErrEmptyResult)
	assert.Nil(t, chainErr.Cause)
	assert.Contains(t, err.Error(), "all 3 persona(s) failed")
}

func TestRunChainStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RunChain(ctx, nil, "download:video", testPersonas(3),
		func(_ context.Context, _ int, _ Persona) (string, error) {
			calls++
			cancel()
			return "", errors.New("interrupted")
		})

	assert.Equal(t, 1, calls)
	require.ErrorIs(t, err, context.Canceled)
	var chainErr *ChainFailedError
	require.ErrorAs(t, err, &chainErr)
	assert.Len(t, chainErr.Attempts, 3)
	assert.ErrorIs(t, chainErr.Attempts[2].Err, context.Canceled)
}

func TestRunChainWithNoPersonas(t *testing.T) {
	_, err := RunChain(context.Background(), nil, "extract", nil,
		func(context.Context, int, Persona) (string, error) {
			t.Fatal("attempt must not be called")
			return "", nil
		})
	var chainErr *ChainFailedError
	require.ErrorAs(t, err, &chainErr)
	assert.Empty(t, chainErr.Attempts)
	assert.Contains(t, err.Error(), "no personas configured")
}
