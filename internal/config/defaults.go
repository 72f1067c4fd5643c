package config

// Defaults returns a config that passes validation for local development,
// with credentials left to env expansion or `relaybot config set`.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:     "info",
			SystemPrompt: "You are a helpful assistant replying inside a messaging conversation. Keep answers concise and plain-text.",
		},
		Gateway: GatewayConfig{
			Transport:    "whatsapp",
			Host:         "0.0.0.0",
			Port:         8080,
			ChunkLimit:   4096,
			ChunkDelayMs: 500,
			WhatsApp: WhatsAppConfig{
				WebhookPath: "/webhook/whatsapp",
			},
		},
		Routing: RoutingConfig{
			Primary: EndpointConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
			},
			TimeoutSeconds: 20,
		},
		Store: StoreConfig{
			DBPath:        "~/.relaybot/relaybot.db",
			HistoryWindow: 10,
		},
		Scheduler: SchedulerConfig{
			BatchSize: 50,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
