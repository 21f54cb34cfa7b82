package config

// Warning codes.
const (
	WarningThresholdDefaulted = "cache_threshold_defaulted"
	WarningMissingLLMKey      = "llm_api_key_missing"
	WarningSingleFlight       = "cache_single_flight_shares_answers"
)

// Warning is a non-fatal configuration problem worth logging at startup.
type Warning struct {
	Code    string
	Message string
}

// Warnings reports settings that are valid but probably unintended.
func (c *Config) Warnings() []Warning {
	var out []Warning
	if c.thresholdDefaulted {
		out = append(out, Warning{
			Code:    WarningThresholdDefaulted,
			Message: "cache.similarity_threshold was missing or outside (0,1]; using 0.95",
		})
	}
	if c.LLM.APIKey == "" {
		out = append(out, Warning{
			Code:    WarningMissingLLMKey,
			Message: "llm.api_key (OPENAI_API_KEY) is not set; chat requests will fail",
		})
	}
	if c.Cache.Enabled && c.Cache.SingleFlight {
		out = append(out, Warning{
			Code:    WarningSingleFlight,
			Message: "cache.single_flight shares one answer between concurrent sessions asking the same question",
		})
	}
	return out
}
