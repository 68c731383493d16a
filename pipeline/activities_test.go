package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixware/mxwhisper/store"
)

func TestAIProvenanceOnMatch(t *testing.T) {
	prov := aiProvenance([]string{"Theology", "History"})
	require.NotNil(t, prov.AIConfidence)
	assert.Equal(t, 1.0, *prov.AIConfidence)
	assert.Equal(t, "assigned by LLM from chunk summaries", prov.AIReasoning)
	assert.Nil(t, prov.AssignedBy)
	assert.False(t, prov.UserReviewed)
}

func TestAIProvenanceUnknownFallback(t *testing.T) {
	prov := aiProvenance([]string{store.UnknownTopicName})
	assert.Nil(t, prov.AIConfidence)
	assert.Empty(t, prov.AIReasoning)
}

func TestAIProvenanceMixedNamesStillCount(t *testing.T) {
	prov := aiProvenance([]string{store.UnknownTopicName, "Music"})
	require.NotNil(t, prov.AIConfidence)
	assert.Equal(t, 1.0, *prov.AIConfidence)
}
