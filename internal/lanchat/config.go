package lanchat

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const defaultDataDir = "lanchat-data"

// Config holds runtime settings derived from CLI flags, the environment and
// an optional .env file.
type Config struct {
	Name           string
	AvatarPath     string
	AvatarSHA      string
	DataDir        string
	HistoryDB      string
	AvatarCacheDir string
	SenderID       string
	QueueLimit     int
	NoAPI          bool
	NoColor        bool
	NoHistory      bool
}

// LoadConfig parses CLI flags and returns a populated Config. Values not set
// on the command line fall back to LANCHAT_* environment variables, which a
// .env file in the working directory may provide.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	flag.StringVar(&cfg.Name, "name", envOr("LANCHAT_NAME", ""), "display name shown to peers")
	flag.StringVar(&cfg.AvatarPath, "avatar", envOr("LANCHAT_AVATAR", ""), "path to a PNG avatar to announce")
	flag.StringVar(&cfg.DataDir, "data-dir", envOr("LANCHAT_DATA_DIR", defaultDataDir), "base directory for identity, history and avatar cache")
	flag.IntVar(&cfg.QueueLimit, "queue", defaultQueueLimit, "max messages held while no peers are online")
	flag.BoolVar(&cfg.NoAPI, "no-api", false, "disable the localhost control API")
	flag.BoolVar(&cfg.NoColor, "no-color", false, "disable ANSI colors in terminal output")
	flag.BoolVar(&cfg.NoHistory, "no-history", false, "disable persisted message history")
	flag.Parse()

	if cfg.Name == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Name = host
		} else {
			cfg.Name = "anonymous"
		}
	}

	cfg.ensureDirs()
	cfg.SenderID = loadOrCreateSenderID(cfg.DataDir)
	if cfg.AvatarPath != "" {
		sha, err := HashFile(cfg.AvatarPath)
		if err != nil {
			log.Printf("avatar %s unreadable, announcing without one: %v", cfg.AvatarPath, err)
			cfg.AvatarPath = ""
		} else {
			cfg.AvatarSHA = sha
		}
	}
	return cfg
}

func (cfg *Config) ensureDirs() {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("init data dir: %v", err)
	}
	cfg.HistoryDB = filepath.Join(cfg.DataDir, "history.db")
	cfg.AvatarCacheDir = filepath.Join(cfg.DataDir, "avatars")
	if err := os.MkdirAll(cfg.AvatarCacheDir, 0o755); err != nil {
		log.Fatalf("init avatar cache dir: %v", err)
	}
}

// loadOrCreateSenderID returns the stable peer identity for this data dir,
// minting and persisting a fresh UUID on first run.
func loadOrCreateSenderID(dataDir string) string {
	path := filepath.Join(dataDir, "identity")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		log.Printf("persist identity: %v", err)
	}
	return id
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
