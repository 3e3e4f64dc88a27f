package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/geo"
)

// Config holds the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Tables   TablesConfig   `yaml:"tables" mapstructure:"tables"`
	Region   RegionConfig   `yaml:"region" mapstructure:"region"`
	Harvest  HarvestConfig  `yaml:"harvest" mapstructure:"harvest"`
	Tiles    TilesConfig    `yaml:"tiles" mapstructure:"tiles"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig holds PostGIS connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Name     string `yaml:"name" mapstructure:"name"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

// ConnInfo converts the settings for the db package and the subprocess tools.
func (d DatabaseConfig) ConnInfo() db.ConnInfo {
	return db.ConnInfo{
		Host:     d.Host,
		Port:     d.Port,
		Name:     d.Name,
		User:     d.User,
		Password: d.Password,
		SSLMode:  d.SSLMode,
	}
}

// URL returns a postgres connection string suitable for pgxpool.
func (d DatabaseConfig) URL() string {
	return d.ConnInfo().URL()
}

// StoreConfig selects how SQL reaches the database.
type StoreConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	PsqlPath string `yaml:"psql_path" mapstructure:"psql_path"`
}

// ImportConfig selects how the tower CSV is loaded.
type ImportConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	Ogr2OgrPath string `yaml:"ogr2ogr_path" mapstructure:"ogr2ogr_path"`
}

// TablesConfig names the schemas and tables the pipeline reads and writes.
type TablesConfig struct {
	TowersSchema     string `yaml:"towers_schema" mapstructure:"towers_schema"`
	TowersTable      string `yaml:"towers_table" mapstructure:"towers_table"`
	TilesSchema      string `yaml:"tiles_schema" mapstructure:"tiles_schema"`
	TilesTable       string `yaml:"tiles_table" mapstructure:"tiles_table"`
	TilesSubsetTable string `yaml:"tiles_subset_table" mapstructure:"tiles_subset_table"`
	TileIDColumn     string `yaml:"tile_id_column" mapstructure:"tile_id_column"`
	AnalysisSchema   string `yaml:"analysis_schema" mapstructure:"analysis_schema"`
}

// Towers returns the tower table.
func (t TablesConfig) Towers() db.Table {
	return db.Table{Schema: t.TowersSchema, Name: t.TowersTable}
}

// Tiles returns the speed-tile base table.
func (t TablesConfig) Tiles() db.Table {
	return db.Table{Schema: t.TilesSchema, Name: t.TilesTable}
}

// TilesSubset returns the region subset table.
func (t TablesConfig) TilesSubset() db.Table {
	return db.Table{Schema: t.TilesSchema, Name: t.TilesSubsetTable}
}

// RegionConfig is the geographic bounding box of interest (WGS84 degrees).
type RegionConfig struct {
	MinLat float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MinLon float64 `yaml:"min_lon" mapstructure:"min_lon"`
	MaxLat float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MaxLon float64 `yaml:"max_lon" mapstructure:"max_lon"`
}

// BBox returns the region as a bounding box.
func (r RegionConfig) BBox() geo.BBox {
	return geo.BBox{MinLat: r.MinLat, MinLon: r.MinLon, MaxLat: r.MaxLat, MaxLon: r.MaxLon}
}

// HarvestConfig configures the OpenCelliD harvester.
type HarvestConfig struct {
	Token            string  `yaml:"token" mapstructure:"token"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	StepLat          float64 `yaml:"step_lat" mapstructure:"step_lat"`
	StepLon          float64 `yaml:"step_lon" mapstructure:"step_lon"`
	PageSize         int     `yaml:"page_size" mapstructure:"page_size"`
	DelayMs          int     `yaml:"delay_ms" mapstructure:"delay_ms"`
	Radio            string  `yaml:"radio" mapstructure:"radio"`
	Output           string  `yaml:"output" mapstructure:"output"`
	CountTimeoutSecs int     `yaml:"count_timeout_secs" mapstructure:"count_timeout_secs"`
	PageTimeoutSecs  int     `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffMs        int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
}

// Delay returns the pause between registry calls.
func (h HarvestConfig) Delay() time.Duration {
	return time.Duration(h.DelayMs) * time.Millisecond
}

// Backoff returns the fixed wait between retry attempts.
func (h HarvestConfig) Backoff() time.Duration {
	return time.Duration(h.BackoffMs) * time.Millisecond
}

// TilesConfig locates the Ookla open-data parquet files.
type TilesConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Type     string `yaml:"type" mapstructure:"type"` // mobile or fixed
	Year     int    `yaml:"year" mapstructure:"year"`
	Quarter  int    `yaml:"quarter" mapstructure:"quarter"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// PipelineConfig configures the ETL stages.
type PipelineConfig struct {
	Categories []string `yaml:"categories" mapstructure:"categories"`
	ExportAll  bool     `yaml:"export_all" mapstructure:"export_all"`
	RulesFile  string   `yaml:"rules_file" mapstructure:"rules_file"`
	RunLog     bool     `yaml:"run_log" mapstructure:"run_log"`
}

// OutputConfig names the exported GeoJSON documents.
type OutputConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	AllFile      string `yaml:"all_file" mapstructure:"all_file"`
	CategoryFile string `yaml:"category_file" mapstructure:"category_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the environment variable names used by the
// docker compose deployment and the earlier shell scripts.
var legacyEnv = map[string]string{
	"database.host":             "POSTGRES_HOST",
	"database.port":             "POSTGRES_PORT",
	"database.name":             "POSTGRES_DB",
	"database.user":             "POSTGRES_USER",
	"database.password":         "POSTGRES_PASSWORD",
	"tables.towers_schema":      "TOWERS_SCHEMA",
	"tables.towers_table":       "TOWERS_TABLE",
	"tables.tiles_schema":       "OOKLA_SCHEMA",
	"tables.tiles_table":        "OOKLA_TABLE",
	"tables.tiles_subset_table": "OOKLA_TABLE_BB",
	"tables.analysis_schema":    "ANALYSIS_SCHEMA",
	"harvest.token":             "OPENCELLID_TOKEN",
	"output.all_file":           "OUTPUT_GEOJSON_1",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONNECTIVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "CONNECTIVITY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "geodb")
	v.SetDefault("database.user", "admin")
	v.SetDefault("database.password", "StrongPass123")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("store.driver", "pgx")
	v.SetDefault("store.psql_path", "psql")
	v.SetDefault("import.mode", "copy")
	v.SetDefault("import.ogr2ogr_path", "ogr2ogr")
	v.SetDefault("tables.towers_schema", "cell_towers")
	v.SetDefault("tables.towers_table", "bb_towers")
	v.SetDefault("tables.tiles_schema", "ookla_tiles")
	v.SetDefault("tables.tiles_table", "raw_mobile_q1_2024")
	v.SetDefault("tables.tiles_subset_table", "raw_mobile_q1_2024_bb")
	v.SetDefault("tables.tile_id_column", "ogc_fid")
	v.SetDefault("tables.analysis_schema", "analysis")
	v.SetDefault("region.min_lat", 13.03)
	v.SetDefault("region.min_lon", -59.95)
	v.SetDefault("region.max_lat", 13.40)
	v.SetDefault("region.max_lon", -59.35)
	v.SetDefault("harvest.token", "")
	v.SetDefault("harvest.base_url", "https://opencellid.org")
	v.SetDefault("harvest.step_lat", 0.01)
	v.SetDefault("harvest.step_lon", 0.01)
	v.SetDefault("harvest.page_size", 50)
	v.SetDefault("harvest.delay_ms", 120)
	v.SetDefault("harvest.radio", "")
	v.SetDefault("harvest.output", "opencellid_barbados_towers.csv")
	v.SetDefault("harvest.count_timeout_secs", 30)
	v.SetDefault("harvest.page_timeout_secs", 60)
	v.SetDefault("harvest.max_attempts", 3)
	v.SetDefault("harvest.backoff_ms", 500)
	v.SetDefault("tiles.base_url", "https://ookla-open-data.s3.amazonaws.com")
	v.SetDefault("tiles.type", "mobile")
	v.SetDefault("tiles.year", 2024)
	v.SetDefault("tiles.quarter", 1)
	v.SetDefault("tiles.cache_dir", "data")
	v.SetDefault("pipeline.categories", []string{"LTE", "5G"})
	v.SetDefault("pipeline.export_all", true)
	v.SetDefault("pipeline.rules_file", "")
	v.SetDefault("pipeline.run_log", true)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.all_file", "towers_per_tile.geojson")
	v.SetDefault("output.category_file", "towers_per_tile_%s.geojson")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// loadDotEnv exports KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return eris.Wrapf(err, "config: read %s", path)
	}

	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return eris.Wrapf(err, "config: set %s", name)
		}
	}
	return nil
}

// Validate checks the settings the named command depends on. All problems
// are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "pgx", "psql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be pgx or psql", c.Store.Driver))
	}
	if c.Region.MinLat >= c.Region.MaxLat || c.Region.MinLon >= c.Region.MaxLon {
		errs = append(errs, "region min_lat/min_lon must be below max_lat/max_lon")
	}

	switch mode {
	case "harvest":
		if strings.TrimSpace(c.Harvest.Token) == "" {
			errs = append(errs, "harvest.token is required (set OPENCELLID_TOKEN)")
		}
		if c.Harvest.StepLat <= 0 || c.Harvest.StepLon <= 0 {
			errs = append(errs, "harvest.step_lat and harvest.step_lon must be > 0")
		}
		if c.Harvest.PageSize <= 0 {
			errs = append(errs, "harvest.page_size must be > 0")
		}
		if c.Harvest.MaxAttempts <= 0 {
			errs = append(errs, "harvest.max_attempts must be > 0")
		}
	case "etl":
		switch c.Import.Mode {
		case "copy", "gdal":
		default:
			errs = append(errs, fmt.Sprintf("import.mode %q must be copy or gdal", c.Import.Mode))
		}
		if len(c.Pipeline.Categories) == 0 {
			errs = append(errs, "pipeline.categories must name at least one category")
		}
		if !strings.Contains(c.Output.CategoryFile, "%s") {
			errs = append(errs, "output.category_file must contain %s")
		}
	case "tiles":
		if c.Tiles.Type != "mobile" && c.Tiles.Type != "fixed" {
			errs = append(errs, fmt.Sprintf("tiles.type %q must be mobile or fixed", c.Tiles.Type))
		}
		if c.Tiles.Quarter < 1 || c.Tiles.Quarter > 4 {
			errs = append(errs, "tiles.quarter must be between 1 and 4")
		}
		if c.Tiles.Year < 2019 {
			errs = append(errs, "tiles.year must be 2019 or later")
		}
	case "db":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
