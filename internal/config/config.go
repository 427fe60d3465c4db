package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	flag "github.com/spf13/pflag"

	"github.com/Max423423/OnChainRiddle/internal/infra"
	"github.com/Max423423/OnChainRiddle/internal/model"
)

type ChainConfig struct {
	URL             string        `koanf:"url"`
	ContractAddress string        `koanf:"contract-address"`
	PrivateKey      string        `koanf:"private-key"`
	ChainID         int64         `koanf:"chain-id"`
	PollInterval    time.Duration `koanf:"poll-interval"`
}

var ChainConfigDefault = ChainConfig{
	URL:          "http://127.0.0.1:8545",
	PollInterval: infra.DefaultPollInterval,
}

func ChainConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".url", ChainConfigDefault.URL, "JSON-RPC endpoint of the chain (http(s) or ws(s))")
	f.String(prefix+".contract-address", ChainConfigDefault.ContractAddress, "address of the riddle contract")
	f.String(prefix+".private-key", ChainConfigDefault.PrivateKey, "hex private key used to sign transactions")
	f.Int64(prefix+".chain-id", ChainConfigDefault.ChainID, "chain id for signing (0 asks the node)")
	f.Duration(prefix+".poll-interval", ChainConfigDefault.PollInterval, "log polling interval when the endpoint has no subscriptions")
}

func (c *ChainConfig) Validate(requireKey bool) error {
	if c.URL == "" {
		return errors.New("chain.url is required")
	}
	if c.ContractAddress == "" {
		return errors.New("chain.contract-address is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("chain.contract-address %q is not a hex address", c.ContractAddress)
	}
	if c.PrivateKey == "" {
		if requireKey {
			return errors.New("chain.private-key is required")
		}
		return nil
	}
	if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x")); err != nil {
		return fmt.Errorf("chain.private-key is invalid: %w", err)
	}
	return nil
}

type AIConfig struct {
	APIKey  string        `koanf:"api-key"`
	BaseURL string        `koanf:"base-url"`
	Model   string        `koanf:"model"`
	Force   bool          `koanf:"force"`
	Timeout time.Duration `koanf:"timeout"`
}

var AIConfigDefault = AIConfig{
	Model:   infra.DefaultOpenAIModel,
	Timeout: infra.DefaultOpenAITimeout,
}

func AIConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".api-key", AIConfigDefault.APIKey, "API key of the OpenAI-compatible service")
	f.String(prefix+".base-url", AIConfigDefault.BaseURL, "base URL of the OpenAI-compatible service (empty for api.openai.com)")
	f.String(prefix+".model", AIConfigDefault.Model, "chat completion model")
	f.Bool(prefix+".force", AIConfigDefault.Force, "fail instead of falling back to the built-in riddles")
	f.Duration(prefix+".timeout", AIConfigDefault.Timeout, "timeout of a single completion request")
}

type GameConfig struct {
	Language             string        `koanf:"language"`
	Difficulty           string        `koanf:"difficulty"`
	WinnerCooldown       time.Duration `koanf:"winner-cooldown"`
	CurrentRiddleTimeout time.Duration `koanf:"current-riddle-timeout"`
}

var GameConfigDefault = GameConfig{
	Language:             model.DefaultLanguage,
	Difficulty:           model.Medium.String(),
	WinnerCooldown:       time.Second,
	CurrentRiddleTimeout: 15 * time.Second,
}

func GameConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".language", GameConfigDefault.Language, "language of generated riddles")
	f.String(prefix+".difficulty", GameConfigDefault.Difficulty, "difficulty of generated riddles: easy, medium or hard")
	f.Duration(prefix+".winner-cooldown", GameConfigDefault.WinnerCooldown, "delay between a winner and the next riddle")
	f.Duration(prefix+".current-riddle-timeout", GameConfigDefault.CurrentRiddleTimeout, "timeout of the current riddle RPC (10s-25s)")
}

// GenerationOptions returns the riddle source options, already validated.
func (c *GameConfig) GenerationOptions() (model.GenerationOptions, error) {
	return model.NewGenerationOptions(c.Language, c.Difficulty)
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	Port            int           `koanf:"port"`
	AllowOrigin     string        `koanf:"allow-origin"`
	RateLimit       int           `koanf:"rate-limit"`
	RateBurst       int           `koanf:"rate-burst"`
	StaticDir       string        `koanf:"static-dir"`
	ShutdownTimeout time.Duration `koanf:"shutdown-timeout"`
}

var HTTPConfigDefault = HTTPConfig{
	Addr:            "",
	Port:            3001,
	AllowOrigin:     "*",
	RateLimit:       30,
	RateBurst:       5,
	ShutdownTimeout: 10 * time.Second,
}

func HTTPConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".addr", HTTPConfigDefault.Addr, "interface to listen on")
	f.Int(prefix+".port", HTTPConfigDefault.Port, "port to listen on")
	f.String(prefix+".allow-origin", HTTPConfigDefault.AllowOrigin, "Access-Control-Allow-Origin value")
	f.Int(prefix+".rate-limit", HTTPConfigDefault.RateLimit, "manual trigger requests allowed per minute")
	f.Int(prefix+".rate-burst", HTTPConfigDefault.RateBurst, "burst of manual trigger requests")
	f.String(prefix+".static-dir", HTTPConfigDefault.StaticDir, "directory of the built player frontend, served under /app/ (empty disables)")
	f.Duration(prefix+".shutdown-timeout", HTTPConfigDefault.ShutdownTimeout, "graceful shutdown timeout")
}

func (c *HTTPConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

type Config struct {
	EnvFile string             `koanf:"env-file"`
	Chain   ChainConfig        `koanf:"chain"`
	AI      AIConfig           `koanf:"ai"`
	Game    GameConfig         `koanf:"game"`
	HTTP    HTTPConfig         `koanf:"http"`
	Log     infra.LoggerConfig `koanf:"log"`
}

func ConfigAddOptions(f *flag.FlagSet) {
	f.String("env-file", ".env", "dotenv file to load before reading the environment (missing is fine)")
	ChainConfigAddOptions("chain", f)
	AIConfigAddOptions("ai", f)
	GameConfigAddOptions("game", f)
	HTTPConfigAddOptions("http", f)
	infra.LoggerConfigAddOptions("log", f)
}

func (c *Config) Validate() error {
	if err := c.Chain.Validate(true); err != nil {
		return err
	}
	if c.AI.APIKey == "" {
		return errors.New("ai.api-key is required")
	}
	if _, err := c.Game.GenerationOptions(); err != nil {
		return err
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range", c.HTTP.Port)
	}
	return nil
}

// envKeys maps the recognised environment variables to config keys.
var envKeys = map[string]string{
	"RPC_URL":                "chain.url",
	"CONTRACT_ADDRESS":       "chain.contract-address",
	"PRIVATE_KEY":            "chain.private-key",
	"CHAIN_ID":               "chain.chain-id",
	"OPENAI_API_KEY":         "ai.api-key",
	"OPENAI_BASE_URL":        "ai.base-url",
	"OPENAI_MODEL":           "ai.model",
	"FORCE_OPENAI":           "ai.force",
	"PORT":                   "http.port",
	"STATIC_DIR":             "http.static-dir",
	"LOG_LEVEL":              "log.level",
	"LOG_FORMAT":             "log.format",
	"RIDDLE_LANGUAGE":        "game.language",
	"RIDDLE_DIFFICULTY":      "game.difficulty",
	"WINNER_COOLDOWN":        "game.winner-cooldown",
	"CURRENT_RIDDLE_TIMEOUT": "game.current-riddle-timeout",
}

// load fills out from flag defaults, the dotenv file, the environment and
// explicitly set flags, later sources winning.
func load(f *flag.FlagSet, args []string, out any) error {
	if err := f.Parse(args); err != nil {
		return err
	}

	if envFile, err := f.GetString("env-file"); err == nil && envFile != "" {
		// 既存の環境変数は上書きされない
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}
	// 明示されたフラグは環境変数より優先、未指定のフラグはデフォルト値として入る
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return fmt.Errorf("loading flags: %w", err)
	}
	return k.Unmarshal("", out)
}

func Parse(args []string) (*Config, error) {
	f := flag.NewFlagSet("riddle-bot", flag.ContinueOnError)
	ConfigAddOptions(f)

	var cfg Config
	if err := load(f, args, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PlayerConfig is the configuration of the riddle-player command.
type PlayerConfig struct {
	EnvFile string        `koanf:"env-file"`
	Chain   ChainConfig   `koanf:"chain"`
	Server  string        `koanf:"server"`
	Timeout time.Duration `koanf:"timeout"`
}

// ParsePlayer parses flags and returns the remaining positional arguments.
func ParsePlayer(args []string) (*PlayerConfig, []string, error) {
	f := flag.NewFlagSet("riddle-player", flag.ContinueOnError)
	f.String("env-file", ".env", "dotenv file to load before reading the environment (missing is fine)")
	ChainConfigAddOptions("chain", f)
	f.String("server", "", "read the current riddle through a riddle-bot server instead of the chain")
	f.Duration("timeout", GameConfigDefault.CurrentRiddleTimeout, "timeout of chain reads")

	var cfg PlayerConfig
	if err := load(f, args, &cfg); err != nil {
		return nil, nil, err
	}
	if cfg.Server == "" {
		if err := cfg.Chain.Validate(false); err != nil {
			return nil, nil, err
		}
	}
	return &cfg, f.Args(), nil
}
