package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"

	"vic_tracker/internal/extract"
)

type SiteConfig struct {
	BaseURL            string        `yaml:"base_url"`
	LoginURL           string        `yaml:"login_url"`
	ProfileURLTemplate string        `yaml:"profile_url_template"`
	UserAgent          string        `yaml:"user_agent"`
	RespectRobots      bool          `yaml:"respect_robots"`
	Markers            MarkersConfig `yaml:"markers"`
	ProfileRules       extract.Rules `yaml:"profile_rules"`
	IdeaRules          extract.Rules `yaml:"idea_rules"`
}

// MarkersConfig drives session classification on the reference page.
// Challenge entries are lowercase body substrings, the rest are CSS selectors.
type MarkersConfig struct {
	Challenge []string `yaml:"challenge"`
	Logout    []string `yaml:"logout"`
	Login     []string `yaml:"login"`
	Member    []string `yaml:"member"`
}

type DBConfig struct {
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Authors       string `yaml:"authors"`
		Ideas         string `yaml:"ideas"`
		AuthorMetrics string `yaml:"author_metrics"`
		Prices        string `yaml:"prices"`
		ScrapeLog     string `yaml:"scrape_log"`
		Stats         string `yaml:"stats"`
	} `yaml:"collections"`
}

type LogicConfig struct {
	MinDelayMS       int `yaml:"min_delay_ms"`
	MaxDelayMS       int `yaml:"max_delay_ms"`
	LongPauseEvery   int `yaml:"long_pause_every"`
	LongPauseMinMS   int `yaml:"long_pause_min_ms"`
	LongPauseMaxMS   int `yaml:"long_pause_max_ms"`
	SettleDelayMS    int `yaml:"settle_delay_ms"`
	TimeoutSec       int `yaml:"timeout_sec"`
	MaxRetries       int `yaml:"max_retries"`
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`
}

type SessionConfig struct {
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ScheduleConfig holds five-field cron specs. An empty spec disables the job.
type ScheduleConfig struct {
	DailyScrape string `yaml:"daily_scrape"`
	DailyUpdate string `yaml:"daily_update"`
	Backfill    string `yaml:"backfill"`
}

type PricesConfig struct {
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	MaxIdeasPerRun    int     `yaml:"max_ideas_per_run"`
	MaxAgeHours       int     `yaml:"max_age_hours"`
	WindowYears       int     `yaml:"window_years"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TrackerConfig struct {
	Site     SiteConfig     `yaml:"site"`
	DB       DBConfig       `yaml:"db"`
	Logic    LogicConfig    `yaml:"logic"`
	Session  SessionConfig  `yaml:"session"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Prices   PricesConfig   `yaml:"prices"`
	Log      LogConfig      `yaml:"log"`
	SeedFile string         `yaml:"seed_file"`
}

// LoadConfig reads a YAML config, fills defaults and applies environment
// overrides. A .env file next to the working directory is loaded if present.
func LoadConfig(path string) (*TrackerConfig, error) {
	_ = godotenv.Load()

	cfg := &TrackerConfig{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, eris.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
		// defaults plus env are enough to run
	default:
		return nil, eris.Wrapf(err, "read config %s", path)
	}

	cfg.ApplyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *TrackerConfig {
	cfg := &TrackerConfig{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *TrackerConfig) ApplyDefaults() {
	setString(&c.Site.BaseURL, "https://valueinvestorsclub.com")
	setString(&c.Site.LoginURL, c.Site.BaseURL+"/login")
	setString(&c.Site.ProfileURLTemplate, c.Site.BaseURL+"/member/{username}/{userId}")
	setString(&c.Site.UserAgent, "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	if len(c.Site.Markers.Challenge) == 0 {
		c.Site.Markers.Challenge = []string{
			"checking your browser",
			"cf-browser-verification",
			"challenge-platform",
			"just a moment...",
			"verify you are human",
		}
	}
	if len(c.Site.Markers.Logout) == 0 {
		c.Site.Markers.Logout = []string{`a[href*="logout"]`, `form[action*="logout"]`}
	}
	if len(c.Site.Markers.Login) == 0 {
		c.Site.Markers.Login = []string{`a[href$="/login"]`, `form[action*="login"]`, `input[type="password"]`}
	}
	if len(c.Site.Markers.Member) == 0 {
		c.Site.Markers.Member = []string{`a[href*="/member/"]`, `a[href*="/ideas/my"]`}
	}
	c.Site.ProfileRules = extract.DefaultProfileRules().Merge(c.Site.ProfileRules)
	c.Site.IdeaRules = extract.DefaultIdeaRules().Merge(c.Site.IdeaRules)

	setString(&c.DB.Connection, "mongodb://localhost:27017")
	setString(&c.DB.Database, "vic_tracker")
	setString(&c.DB.Collections.Authors, "authors")
	setString(&c.DB.Collections.Ideas, "ideas")
	setString(&c.DB.Collections.AuthorMetrics, "authorMetrics")
	setString(&c.DB.Collections.Prices, "prices")
	setString(&c.DB.Collections.ScrapeLog, "scrapeLog")
	setString(&c.DB.Collections.Stats, "stats")

	setInt(&c.Logic.MinDelayMS, 8000)
	setInt(&c.Logic.MaxDelayMS, 15000)
	setInt(&c.Logic.LongPauseEvery, 5)
	setInt(&c.Logic.LongPauseMinMS, 60000)
	setInt(&c.Logic.LongPauseMaxMS, 90000)
	setInt(&c.Logic.SettleDelayMS, 2000)
	setInt(&c.Logic.TimeoutSec, 30)
	setInt(&c.Logic.MaxRetries, 3)
	setInt(&c.Logic.RetryBaseDelayMS, 1000)
	if c.Logic.MaxDelayMS < c.Logic.MinDelayMS {
		c.Logic.MaxDelayMS = c.Logic.MinDelayMS
	}

	setString(&c.Session.Dir, "session")
	setString(&c.Server.Addr, ":8080")
	setString(&c.Schedule.DailyScrape, "0 6 * * *")
	setString(&c.Schedule.DailyUpdate, "0 7 * * *")

	setString(&c.Prices.BaseURL, "https://query1.finance.yahoo.com")
	if c.Prices.RequestsPerSecond <= 0 {
		c.Prices.RequestsPerSecond = 2
	}
	setInt(&c.Prices.TimeoutSec, 15)
	setInt(&c.Prices.MaxIdeasPerRun, 10)
	setInt(&c.Prices.MaxAgeHours, 24)
	setInt(&c.Prices.WindowYears, 5)

	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "console")
}

func (c *TrackerConfig) applyEnv() {
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.DB.Connection = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		c.DB.Database = v
	}
	if v := os.Getenv("VIC_SESSION_DIR"); v != "" {
		c.Session.Dir = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VIC_MIN_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Logic.MinDelayMS = n
		}
	}
	if v := os.Getenv("VIC_MAX_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= c.Logic.MinDelayMS {
			c.Logic.MaxDelayMS = n
		}
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}
