package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Broker.SessionToken)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Router.Brokers != nil {
		out.Router.Brokers = append([]BrokerEntry(nil), cfg.Router.Brokers...)
	}
	if cfg.Monitor.ThresholdsMs != nil {
		out.Monitor.ThresholdsMs = make(map[string]int, len(cfg.Monitor.ThresholdsMs))
		for k, v := range cfg.Monitor.ThresholdsMs {
			out.Monitor.ThresholdsMs[k] = v
		}
	}
	if cfg.Strategies != nil {
		out.Strategies = make([]StrategyEntry, len(cfg.Strategies))
		for i, s := range cfg.Strategies {
			out.Strategies[i] = s
			if s.Params != nil {
				out.Strategies[i].Params = make(map[string]float64, len(s.Params))
				for k, v := range s.Params {
					out.Strategies[i].Params[k] = v
				}
			}
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
