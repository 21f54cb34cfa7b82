package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func hasWarning(ws []Warning, code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestWarnings_MissingLLMKey(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, hasWarning(cfg.Warnings(), WarningMissingLLMKey))

	cfg.LLM.APIKey = "sk-test"
	require.Empty(t, cfg.Warnings())
}

func TestWarnings_ThresholdDefaulted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.Cache.SimilarityThreshold = 3
	cfg.normalize()

	require.Equal(t, 0.95, cfg.Cache.SimilarityThreshold)
	require.True(t, hasWarning(cfg.Warnings(), WarningThresholdDefaulted))
}

func TestWarnings_SingleFlight(t *testing.T) {
	t.Run("cache disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.APIKey = "sk-test"
		cfg.Cache.SingleFlight = true
		require.Empty(t, cfg.Warnings())
	})

	t.Run("cache enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.APIKey = "sk-test"
		cfg.Cache.Enabled = true
		cfg.Cache.SingleFlight = true
		require.True(t, hasWarning(cfg.Warnings(), WarningSingleFlight))
	})
}
