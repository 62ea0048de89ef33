// Package config holds the daemon configuration: TOML file, .env overrides and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const defaultPersona = `
You are Alfred, an intelligent AI Butler for "Master Hanlin".
- Primary Rule: Always answer in English.
- Tone: Elegant, loyal, witty, and professional (British Butler style).
- Address the user as "Master Hanlin".
- Context: Master Hanlin is a kindergarten student, so explain complex things simply but elegantly.
`

// Duration decodes TOML strings like "200ms" or "1s".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type LLM struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	Persona        string  `toml:"persona"`
	LanguageSuffix string  `toml:"language_suffix"`
	StripReasoning bool    `toml:"strip_reasoning"`
}

type Speech struct {
	URL           string   `toml:"url"`
	Voice         string   `toml:"voice"`
	Rate          string   `toml:"rate"`
	Pitch         string   `toml:"pitch"`
	FallbackDelay Duration `toml:"fallback_delay"`
}

type Songs struct {
	URL string `toml:"url"`
	Dir string `toml:"dir"`
}

type Mic struct {
	Backend  string   `toml:"backend"`
	Model    string   `toml:"model"`
	Language string   `toml:"language"`
	Debounce Duration `toml:"debounce"`
}

type Overlay struct {
	Listen string `toml:"listen"`
}

type NATS struct {
	URL    string `toml:"url"`
	Prefix string `toml:"prefix"`
}

type Ducking struct {
	Enabled bool     `toml:"enabled"`
	Factor  float64  `toml:"factor"`
	Fade    Duration `toml:"fade"`
}

// Phrases are the canned replies spoken for rule-based intents.
type Phrases struct {
	Stop         string `toml:"stop"`
	Sing         string `toml:"sing"`
	RandomSong   string `toml:"random_song"`
	BridgeFailed string `toml:"bridge_failed"`
	SystemError  string `toml:"system_error"`
	Greeting     string `toml:"greeting"`
}

// Card is a visual card shown by the show-card intents.
type Card struct {
	ID          string `toml:"id"`
	Reply       string `toml:"reply"`
	Title       string `toml:"title"`
	Description string `toml:"description"`
	Image       string `toml:"image"`
	Link        string `toml:"link"`
}

type Config struct {
	LogLevel  string  `toml:"log_level"`
	IPCSocket string  `toml:"ipc_socket"`
	Proxy     string  `toml:"proxy"`
	Greet     bool    `toml:"greet"`
	LLM       LLM     `toml:"llm"`
	Speech    Speech  `toml:"speech"`
	Songs     Songs   `toml:"songs"`
	Mic       Mic     `toml:"mic"`
	Overlay   Overlay `toml:"overlay"`
	NATS      NATS    `toml:"nats"`
	Ducking   Ducking `toml:"ducking"`
	Phrases   Phrases `toml:"phrases"`
	Cards     []Card  `toml:"cards"`
}

func Default() Config {
	return Config{
		LogLevel:  "info",
		IPCSocket: "/tmp/alfred.sock",
		Greet:     true,
		LLM: LLM{
			BaseURL:        "http://localhost:11434/v1",
			APIKey:         "ollama",
			Model:          "deepseek-r1",
			Temperature:    0.5,
			Persona:        defaultPersona,
			LanguageSuffix: " (Please answer in English)",
			StripReasoning: true,
		},
		Speech: Speech{
			URL:           "http://localhost:8000/api/tts",
			Voice:         "en-GB-RyanNeural",
			Rate:          "+0%",
			Pitch:         "-5Hz",
			FallbackDelay: Duration(time.Second),
		},
		Songs: Songs{
			URL: "http://localhost:8000/api/sing",
		},
		Mic: Mic{
			Backend:  "whisper",
			Model:    "third_party/whisper.cpp/models/ggml-medium.bin",
			Language: "auto",
			Debounce: Duration(200 * time.Millisecond),
		},
		Overlay: Overlay{
			Listen: "127.0.0.1:8765",
		},
		NATS: NATS{
			Prefix: "alfred",
		},
		Ducking: Ducking{
			Factor: 0.3,
			Fade:   Duration(300 * time.Millisecond),
		},
		Phrases: Phrases{
			Stop:         "好的少爷，保持安静。",
			Sing:         "Clearing my throat... Playing %s.",
			RandomSong:   "a random selection",
			BridgeFailed: "无法连接到神经网络。",
			SystemError:  "系统遇到错误。",
			Greeting:     "Greetings, Master Hanlin. Alfred is online. How may I be of service?",
		},
		Cards: []Card{
			{
				ID:          "project",
				Reply:       "少爷，这是您最棒的自动驾驶仪表盘作业！",
				Title:       "EV Dashboard",
				Description: "React & Python Telemetry System",
				Image:       "https://images.unsplash.com/photo-1555774698-0b77e0d5fac6",
				Link:        "#",
			},
			{
				ID:          "contact",
				Reply:       "Here is how to reach you, Master Hanlin.",
				Title:       "Master Hanlin",
				Description: "Wayne Manor, Gotham",
				Link:        "mailto:hanlin@example.com",
			},
		},
	}
}

// Load reads the TOML file at path on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Parse decodes TOML into cfg, keeping values the document does not set.
func Parse(data []byte, cfg *Config) error {
	// Cards replace the default list entirely when the file declares any.
	defaults := cfg.Cards
	cfg.Cards = nil

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Cards) == 0 {
		cfg.Cards = defaults
	}
	return nil
}

// ApplyEnv loads envFile (if present) and applies ALFRED_* overrides.
func (c *Config) ApplyEnv(envFile string) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	if v := os.Getenv("ALFRED_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("ALFRED_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("ALFRED_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ALFRED_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
}

func (c *Config) Card(id string) (Card, bool) {
	for _, card := range c.Cards {
		if card.ID == id {
			return card, true
		}
	}
	return Card{}, false
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		errs = append(errs, errors.New("llm.base_url is empty"))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model is empty"))
	}
	if strings.TrimSpace(c.Speech.URL) == "" {
		errs = append(errs, errors.New("speech.url is empty"))
	}
	if strings.TrimSpace(c.Speech.Voice) == "" {
		errs = append(errs, errors.New("speech.voice is empty"))
	}
	if c.Songs.URL == "" && c.Songs.Dir == "" {
		errs = append(errs, errors.New("songs: url or dir required"))
	}
	if c.Speech.FallbackDelay <= 0 {
		errs = append(errs, errors.New("speech.fallback_delay must be positive"))
	}
	if c.Mic.Debounce <= 0 {
		errs = append(errs, errors.New("mic.debounce must be positive"))
	}
	switch c.Mic.Backend {
	case "whisper", "none":
	default:
		errs = append(errs, fmt.Errorf("mic.backend %q: want whisper or none", c.Mic.Backend))
	}

	return errors.Join(errs...)
}
