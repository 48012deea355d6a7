package db

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const driverName = "mysql"

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  int    `yaml:"token_ttl_hours"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty = event publishing disabled
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PolicyConfig holds the per-deployment business constants. The engine never
// hardcodes these (late fee rate, renewal caps, operating hours); zero values
// fall back to the defaults applied in applyDefaults.
type PolicyConfig struct {
	LateFeePerDay      int    `yaml:"late_fee_per_day"`
	RenewalWindowDays  int    `yaml:"renewal_window_days"`
	MaxExtensionDays   int    `yaml:"max_extension_days"`
	DefaultBorrowDays  int    `yaml:"default_borrow_days"`
	ItemClose          string `yaml:"item_close"`     // "HH:MM"
	ComputerClose      string `yaml:"computer_close"` // "HH:MM"
	ComputerMaxMinutes int    `yaml:"computer_max_minutes"`
}

type QuotaConfig struct {
	ResidentDailyLimit int `yaml:"resident_daily_limit"` // pages per requester per day
	SystemDailyLimit   int `yaml:"system_daily_limit"`   // pages per day, all requesters
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	Addr        string         `yaml:"addr"`
	DB          DatabaseConfig `yaml:"database"`
	Certificate Certs          `yaml:"certificate"`
	Auth        AuthConfig     `yaml:"auth"`
	Redis       RedisConfig    `yaml:"redis"`
	Policy      PolicyConfig   `yaml:"policy"`
	Quota       QuotaConfig    `yaml:"quota"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8443"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24
	}
	if c.Policy.LateFeePerDay <= 0 {
		c.Policy.LateFeePerDay = 50
	}
	if c.Policy.RenewalWindowDays <= 0 {
		c.Policy.RenewalWindowDays = 2
	}
	if c.Policy.MaxExtensionDays <= 0 {
		c.Policy.MaxExtensionDays = 7
	}
	if c.Policy.DefaultBorrowDays <= 0 {
		c.Policy.DefaultBorrowDays = 3
	}
	if c.Policy.ItemClose == "" {
		c.Policy.ItemClose = "22:00"
	}
	if c.Policy.ComputerClose == "" {
		c.Policy.ComputerClose = "17:00"
	}
	if c.Policy.ComputerMaxMinutes <= 0 {
		c.Policy.ComputerMaxMinutes = 120
	}
	if c.Quota.ResidentDailyLimit <= 0 {
		c.Quota.ResidentDailyLimit = 30
	}
	if c.Quota.SystemDailyLimit <= 0 {
		c.Quota.SystemDailyLimit = 500
	}
}

func Connect(c DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.DBName)

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	// Pool sizing: keep the sum across instances under MySQL max_connections.
	db.SetMaxOpenConns(80)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
