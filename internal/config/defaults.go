package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:               "info",
			LogFormat:              "text",
			ShutdownTimeoutSeconds: 10,
		},
		Slack: SlackConfig{
			TokenFile:    "~/.slack/token",
			AppTokenFile: "~/.slack/app_token",
			SendPerSec:   1,
			SendBurst:    3,
		},
		Discord: DiscordConfig{
			TokenFile: "~/.discord/token",
		},
		Shell: ShellConfig{
			User:   "you",
			Prompt: "repp> ",
		},
		Triggers: TriggersConfig{
			MaxDepth:    8,
			MaxInFlight: 256,
		},
		Directory: DirectoryConfig{
			PageSize: 200,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Rules: RulesConfig{
			Path: "~/.repp/rules.yaml",
		},
	}
}
