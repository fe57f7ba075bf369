package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/oracle"
)

func TestOracleEntityExtractor_CachesAnswers(t *testing.T) {
	// Given: an oracle naming two entities
	stub := oracle.NewStub()
	stub.EntitiesFunc = func(oracle.EntitiesRequest) (oracle.EntitiesResponse, error) {
		return oracle.EntitiesResponse{Entities: []string{"Federal Reserve", "Jerome Powell"}}, nil
	}
	x := NewOracleEntityExtractor(stub, 8)

	// When: extracting the same query twice with different spacing
	first, err := x.Extract(context.Background(), "Federal Reserve  Jerome Powell")
	require.NoError(t, err)
	first[0] = "tampered"
	second, err := x.Extract(context.Background(), "federal reserve jerome powell")
	require.NoError(t, err)

	// Then: the oracle ran once and the cache was not mutated
	assert.Equal(t, []string{"Federal Reserve", "Jerome Powell"}, second)
	assert.Equal(t, 1, stub.Calls("entities"))
}

func TestOracleEntityExtractor_FailuresAreNotCached(t *testing.T) {
	stub := oracle.NewStub()
	x := NewOracleEntityExtractor(stub, 0)

	_, err := x.Extract(context.Background(), "Shell")
	require.ErrorIs(t, err, oracle.ErrStubUnscripted)

	stub.EntitiesFunc = func(oracle.EntitiesRequest) (oracle.EntitiesResponse, error) {
		return oracle.EntitiesResponse{Entities: []string{"Shell"}}, nil
	}
	ents, err := x.Extract(context.Background(), "Shell")
	require.NoError(t, err)
	assert.Equal(t, []string{"Shell"}, ents)
	assert.Equal(t, 2, stub.Calls("entities"))
}

func TestOracleEntityExtractor_BlankQuerySkipsOracle(t *testing.T) {
	stub := oracle.NewStub()

	ents, err := NewOracleEntityExtractor(stub, 0).Extract(context.Background(), "   ")

	require.NoError(t, err)
	assert.Empty(t, ents)
	assert.Equal(t, 0, stub.Calls("entities"))
}
