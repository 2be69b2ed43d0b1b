package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	CycleIntervalSeconds int              `yaml:"cycle_interval_seconds"` // cada cuánto se lee el fichero de picks
	Admission            AdmissionConfig  `yaml:"admission"`
	Placement            PlacementConfig  `yaml:"placement"`
	Settlement           SettlementConfig `yaml:"settlement"`
	Ledger               LedgerConfig     `yaml:"ledger"`
	Provider             ProviderConfig   `yaml:"provider"`
	Storage              StorageConfig    `yaml:"storage"`
	Picks                PicksConfig      `yaml:"picks"`
	Metrics              MetricsConfig    `yaml:"metrics"`
	Log                  LogConfig        `yaml:"log"`
}

// AdmissionConfig limita los ciclos concurrentes.
type AdmissionConfig struct {
	MaxActiveCycles     int `yaml:"max_active_cycles"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// PlacementConfig controla los reintentos de la state machine.
type PlacementConfig struct {
	MaxAdjustRetries int     `yaml:"max_adjust_retries"` // PRICE_ABOVE_MARKET / STAKE_ABOVE_MAX
	MaxRejectRetries int     `yaml:"max_reject_retries"` // REJECTED en la pasada consolidada
	StakeShrink      float64 `yaml:"stake_shrink"`       // factor aplicado en STAKE_ABOVE_MAX
}

// SettlementConfig controla el poller de liquidación.
type SettlementConfig struct {
	InitialDelaySeconds int `yaml:"initial_delay_seconds"`
	IntervalSeconds     int `yaml:"interval_seconds"`
	MaxWaitSeconds      int `yaml:"max_wait_seconds"` // 0 = sin límite
}

// LedgerConfig controla el saldo local.
type LedgerConfig struct {
	StartingBalance  string `yaml:"starting_balance"` // decimal, se usa si no hay balance file
	BalanceFile      string `yaml:"balance_file"`
	StatsFile        string `yaml:"stats_file"`
	Currency         string `yaml:"currency"`
	ReconcileOnStart bool   `yaml:"reconcile_on_start"`
}

// ProviderConfig apunta al proveedor de apuestas.
type ProviderConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Token          string  `yaml:"token"` // mejor vía WAGERBOT_PROVIDER_TOKEN
	RatePerSecond  float64 `yaml:"rate_per_second"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// StorageConfig controla dónde se persiste el audit log.
type StorageConfig struct {
	AuditBackend string `yaml:"audit_backend"` // file | sqlite
	AuditFile    string `yaml:"audit_file"`
	KeepBackups  *int   `yaml:"keep_backups"` // sin valor: 2; 0 = todas
	DSN          string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// PicksConfig apunta al fichero que escribe el proceso de predicción.
type PicksConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig activa el endpoint de Prometheus. Addr vacío = desactivado.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

const defaultKeepBackups = 2

// CycleInterval devuelve el intervalo de lectura de picks.
func (c *Config) CycleInterval() time.Duration {
	return seconds(c.CycleIntervalSeconds)
}

// AdmissionPoll devuelve el intervalo de sondeo de slots libres.
func (c *Config) AdmissionPoll() time.Duration {
	return seconds(c.Admission.PollIntervalSeconds)
}

// SettlementInitialDelay devuelve la espera antes de la primera consulta.
func (c *Config) SettlementInitialDelay() time.Duration {
	return seconds(c.Settlement.InitialDelaySeconds)
}

// SettlementInterval devuelve el intervalo entre consultas de estado.
func (c *Config) SettlementInterval() time.Duration {
	return seconds(c.Settlement.IntervalSeconds)
}

// SettlementMaxWait devuelve el límite de espera; 0 significa sin límite.
func (c *Config) SettlementMaxWait() time.Duration {
	return seconds(c.Settlement.MaxWaitSeconds)
}

// ProviderTimeout devuelve el timeout HTTP por petición.
func (c *Config) ProviderTimeout() time.Duration {
	return seconds(c.Provider.TimeoutSeconds)
}

// StartingBalance parsea el saldo inicial.
func (c *Config) StartingBalance() decimal.Decimal {
	d, err := decimal.NewFromString(c.Ledger.StartingBalance)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// StakeShrink devuelve el factor de reducción de stake como decimal.
func (c *Config) StakeShrink() decimal.Decimal {
	return decimal.NewFromFloat(c.Placement.StakeShrink)
}

// Backups devuelve cuántas copias .bak del audit log se conservan (0 = todas).
func (s StorageConfig) Backups() int {
	if s.KeepBackups == nil {
		return defaultKeepBackups
	}
	return *s.KeepBackups
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("WAGERBOT_PROVIDER_TOKEN"); v != "" {
		cfg.Provider.Token = v
	}
	if v := os.Getenv("WAGERBOT_PROVIDER_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.CycleIntervalSeconds <= 0 {
		cfg.CycleIntervalSeconds = 60
	}
	if cfg.Admission.MaxActiveCycles <= 0 {
		cfg.Admission.MaxActiveCycles = 2
	}
	if cfg.Admission.PollIntervalSeconds <= 0 {
		cfg.Admission.PollIntervalSeconds = 30
	}
	if cfg.Placement.MaxAdjustRetries <= 0 {
		cfg.Placement.MaxAdjustRetries = 2
	}
	if cfg.Placement.MaxRejectRetries <= 0 {
		cfg.Placement.MaxRejectRetries = 2
	}
	if cfg.Placement.StakeShrink <= 0 {
		cfg.Placement.StakeShrink = 0.9
	}
	if cfg.Settlement.InitialDelaySeconds <= 0 {
		cfg.Settlement.InitialDelaySeconds = 300 // 5 min
	}
	if cfg.Settlement.IntervalSeconds <= 0 {
		cfg.Settlement.IntervalSeconds = 1800 // 30 min
	}
	if cfg.Ledger.StartingBalance == "" {
		cfg.Ledger.StartingBalance = "1000"
	}
	if cfg.Ledger.BalanceFile == "" {
		cfg.Ledger.BalanceFile = "data/balance.txt"
	}
	if cfg.Ledger.StatsFile == "" {
		cfg.Ledger.StatsFile = "data/stats.txt"
	}
	if cfg.Ledger.Currency == "" {
		cfg.Ledger.Currency = "EUR"
	}
	cfg.Ledger.Currency = strings.ToUpper(cfg.Ledger.Currency)
	if cfg.Provider.RatePerSecond <= 0 {
		cfg.Provider.RatePerSecond = 2
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		cfg.Provider.TimeoutSeconds = 15
	}
	if cfg.Storage.AuditBackend == "" {
		cfg.Storage.AuditBackend = "file"
	}
	if cfg.Storage.AuditFile == "" {
		cfg.Storage.AuditFile = "data/wagers.json"
	}
	if cfg.Storage.KeepBackups == nil {
		keep := defaultKeepBackups
		cfg.Storage.KeepBackups = &keep
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "data/wagerbot.db"
	}
	if cfg.Picks.Path == "" {
		cfg.Picks.Path = "data/picks.yaml"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Storage.AuditBackend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.audit_backend %q: must be file or sqlite", c.Storage.AuditBackend)
	}
	if _, err := decimal.NewFromString(c.Ledger.StartingBalance); err != nil {
		return fmt.Errorf("ledger.starting_balance %q: %w", c.Ledger.StartingBalance, err)
	}
	if c.Placement.StakeShrink >= 1 {
		return fmt.Errorf("placement.stake_shrink %.2f: must be below 1", c.Placement.StakeShrink)
	}
	if c.Storage.Backups() < 0 {
		return fmt.Errorf("storage.keep_backups %d: must not be negative", c.Storage.Backups())
	}
	if c.Settlement.MaxWaitSeconds < 0 {
		return fmt.Errorf("settlement.max_wait_seconds %d: must not be negative", c.Settlement.MaxWaitSeconds)
	}
	return nil
}
