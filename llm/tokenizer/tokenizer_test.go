package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_Count(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("a"))
	assert.Equal(t, 2, e.Count("abcdefgh"))
	assert.Equal(t, 2, e.Count("你好吗"))
}

func TestEncodingForModel(t *testing.T) {
	assert.Equal(t, "o200k_base", EncodingForModel("gpt-4o-mini"))
	assert.Equal(t, "cl100k_base", EncodingForModel("gpt-4-0613"))
	assert.Equal(t, "", EncodingForModel("llama3"))
}

func TestForModel_UnknownUsesEstimator(t *testing.T) {
	c := ForModel("local-model", nil)
	assert.Equal(t, "estimator", c.Name())
}
