package domain

type Config struct {
	Version    string
	ConfigPath string

	DownloadLocation string `yaml:"downloadLocation"`
	DatabasePath     string `yaml:"databasePath"`
	NamingTemplate   string `yaml:"namingTemplate"`

	ImageWorkers     int `yaml:"imageWorkers"`
	MaxAttempts      int `yaml:"maxAttempts"`
	RateLimitMs      int `yaml:"rateLimitMs"`
	ChallengeTimeout int `yaml:"challengeTimeout"` // in seconds

	Accounts map[string]*Account `yaml:"accounts"`

	LogPath       string `yaml:"logPath"`
	LogLevel      string `yaml:"logLevel"`
	LogMaxSize    int    `yaml:"logMaxSize"` // in megabytes
	LogMaxBackups int    `yaml:"logMaxBackups"`
}

type Account struct {
	Account string `yaml:"account"`
}
