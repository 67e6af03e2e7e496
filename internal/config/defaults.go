package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.docverse/data",
			LogLevel: "info",
			Workers:  4,
			BusSize:  100,
		},
		Platform: PlatformConfig{
			Kind: "whatsapp",
		},
		Webhook: WebhookConfig{
			Port: 8080,
			Path: "/webhook",
		},
		Dedup: DedupConfig{
			InboundTTLMinutes: 60,
			ReplyTTLMinutes:   10,
			SweepMinutes:      15,
		},
		Jobs: JobsConfig{
			LeaseMinutes:  5,
			RetentionDays: 7,
		},
		Storage: StorageConfig{
			Root: "~/.docverse/documents",
		},
	}
}
