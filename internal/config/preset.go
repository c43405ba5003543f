package config

import "github.com/yungtweek/chunkback/internal/logger"

// ApplyPresetOverrides adjusts default pacing to resemble a provider's
// streaming shape. Prompts can still override per step.
func ApplyPresetOverrides(cfg *Config) {
	if cfg.Preset == "" {
		return
	}
	logger.Log.Infow("[config] apply preset overrides", "preset", cfg.Preset)
	switch cfg.Preset {
	case "instant":
		// No pacing at all: fastest possible test runs
		cfg.DefaultChunkLatencyMs = 0
		cfg.FollowUpLatencyMs = 0

	case "openai":
		// OpenAI-like: small frequent deltas
		cfg.DefaultChunkSize = 16
		cfg.DefaultChunkLatencyMs = 20
		cfg.FollowUpChunkSize = 16
		cfg.FollowUpLatencyMs = 20

	case "anthropic":
		// Anthropic-like: slightly larger deltas, steady cadence
		cfg.DefaultChunkSize = 24
		cfg.DefaultChunkLatencyMs = 35
		cfg.FollowUpChunkSize = 24
		cfg.FollowUpLatencyMs = 35

	case "gemini":
		// Gemini-like: few large chunks
		cfg.DefaultChunkSize = 64
		cfg.DefaultChunkLatencyMs = 80
		cfg.FollowUpChunkSize = 64
		cfg.FollowUpLatencyMs = 80

	default:
		logger.Log.Warnw("[config] unknown preset, keeping defaults", "preset", cfg.Preset)
	}
}
