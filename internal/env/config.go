package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DebugHTTP bool   `env:"LRCP_DEBUG_HTTP"`
	LogLevel  string `env:"LRCP_LOG_LEVEL,default=info"`

	RetransmitInterval time.Duration `env:"LRCP_RETRANSMIT_INTERVAL,default=3s"`
	ExpiryInterval     time.Duration `env:"LRCP_EXPIRY_INTERVAL,default=20s"`
	MailboxSize        int           `env:"LRCP_MAILBOX_SIZE,default=16"`
	ClosedSessionTTL   time.Duration `env:"LRCP_CLOSED_SESSION_TTL,default=1m"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}
