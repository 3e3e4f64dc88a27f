package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "geodb", cfg.Database.Name)
	assert.Equal(t, "admin", cfg.Database.User)
	assert.Equal(t, "pgx", cfg.Store.Driver)
	assert.Equal(t, "copy", cfg.Import.Mode)
	assert.Equal(t, "cell_towers", cfg.Tables.TowersSchema)
	assert.Equal(t, "bb_towers", cfg.Tables.TowersTable)
	assert.Equal(t, "ookla_tiles", cfg.Tables.TilesSchema)
	assert.Equal(t, "raw_mobile_q1_2024", cfg.Tables.TilesTable)
	assert.Equal(t, "raw_mobile_q1_2024_bb", cfg.Tables.TilesSubsetTable)
	assert.Equal(t, "ogc_fid", cfg.Tables.TileIDColumn)
	assert.Equal(t, "analysis", cfg.Tables.AnalysisSchema)
	assert.InDelta(t, 13.03, cfg.Region.MinLat, 1e-9)
	assert.InDelta(t, -59.95, cfg.Region.MinLon, 1e-9)
	assert.InDelta(t, 13.40, cfg.Region.MaxLat, 1e-9)
	assert.InDelta(t, -59.35, cfg.Region.MaxLon, 1e-9)
	assert.Equal(t, "https://opencellid.org", cfg.Harvest.BaseURL)
	assert.Equal(t, 50, cfg.Harvest.PageSize)
	assert.Equal(t, 3, cfg.Harvest.MaxAttempts)
	assert.Equal(t, int64(120), cfg.Harvest.Delay().Milliseconds())
	assert.Equal(t, int64(500), cfg.Harvest.Backoff().Milliseconds())
	assert.Equal(t, "mobile", cfg.Tiles.Type)
	assert.Equal(t, 2024, cfg.Tiles.Year)
	assert.Equal(t, 1, cfg.Tiles.Quarter)
	assert.Equal(t, []string{"LTE", "5G"}, cfg.Pipeline.Categories)
	assert.True(t, cfg.Pipeline.ExportAll)
	assert.Equal(t, "towers_per_tile.geojson", cfg.Output.AllFile)
	assert.Equal(t, "towers_per_tile_%s.geojson", cfg.Output.CategoryFile)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: psql
tables:
  towers_table: jm_towers
pipeline:
  categories: [LTE, 5G, 3G]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "psql", cfg.Store.Driver)
	assert.Equal(t, "jm_towers", cfg.Tables.TowersTable)
	assert.Equal(t, []string{"LTE", "5G", "3G"}, cfg.Pipeline.Categories)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "cell_towers", cfg.Tables.TowersSchema)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: psql
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CONNECTIVITY_STORE_DRIVER", "pgx")
	t.Setenv("CONNECTIVITY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "pgx", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadLegacyEnvNames(t *testing.T) {
	chdirTemp(t)

	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("POSTGRES_PORT", "15432")
	t.Setenv("TOWERS_TABLE", "towers_raw")
	t.Setenv("OOKLA_TABLE_BB", "tiles_bb")
	t.Setenv("OPENCELLID_TOKEN", "pk.legacy")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, "towers_raw", cfg.Tables.TowersTable)
	assert.Equal(t, "tiles_bb", cfg.Tables.TilesSubsetTable)
	assert.Equal(t, "pk.legacy", cfg.Harvest.Token)
}

func TestLoadPrefixedEnvBeatsLegacy(t *testing.T) {
	chdirTemp(t)

	t.Setenv("POSTGRES_HOST", "legacy-host")
	t.Setenv("CONNECTIVITY_DATABASE_HOST", "new-host")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "new-host", cfg.Database.Host)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.Unsetenv("OPENCELLID_TOKEN"))
	t.Cleanup(func() { os.Unsetenv("OPENCELLID_TOKEN") })
	t.Setenv("POSTGRES_DB", "from_env")

	dotenv := "OPENCELLID_TOKEN=pk.dotenv\nPOSTGRES_DB=from_file\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pk.dotenv", cfg.Harvest.Token)
	// Process environment wins over .env
	assert.Equal(t, "from_env", cfg.Database.Name)
}

func TestDatabaseURL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "geodb", User: "admin", Password: "pw", SSLMode: "disable"}
	assert.Equal(t, "postgres://admin:pw@db:5432/geodb?sslmode=disable", d.URL())
}

func TestTablesAndRegion(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cell_towers.bb_towers", cfg.Tables.Towers().String())
	assert.Equal(t, "ookla_tiles.raw_mobile_q1_2024", cfg.Tables.Tiles().String())
	assert.Equal(t, "ookla_tiles.raw_mobile_q1_2024_bb", cfg.Tables.TilesSubset().String())
	assert.NoError(t, cfg.Region.BBox().Validate())
	assert.InDelta(t, -59.35, cfg.Region.BBox().MaxLon, 1e-9)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "pgx"
	cfg.Import.Mode = "copy"
	cfg.Region = RegionConfig{MinLat: 13.03, MinLon: -59.95, MaxLat: 13.40, MaxLon: -59.35}
	cfg.Harvest.StepLat = 0.01
	cfg.Harvest.StepLon = 0.01
	cfg.Harvest.PageSize = 50
	cfg.Harvest.MaxAttempts = 3
	cfg.Pipeline.Categories = []string{"LTE"}
	cfg.Output.CategoryFile = "towers_per_tile_%s.geojson"
	return cfg
}

func TestValidateHarvest_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Harvest.Token = "pk.token"

	assert.NoError(t, cfg.Validate("harvest"))
}

func TestValidateHarvest_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Harvest.PageSize = 0

	err := cfg.Validate("harvest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "harvest.token is required")
	assert.Contains(t, err.Error(), "harvest.page_size must be > 0")
}

func TestValidateETL(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("etl"))

	cfg.Import.Mode = "shp"
	cfg.Pipeline.Categories = nil
	err := cfg.Validate("etl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "import.mode")
	assert.Contains(t, err.Error(), "pipeline.categories")
}

func TestValidateCategoryFilePattern(t *testing.T) {
	cfg := validDefaults()
	cfg.Output.CategoryFile = "towers.geojson"

	err := cfg.Validate("etl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output.category_file")
}

func TestValidateRegion(t *testing.T) {
	cfg := validDefaults()
	cfg.Region.MinLat = 14

	err := cfg.Validate("db")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"

	err := cfg.Validate("db")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateTiles(t *testing.T) {
	cfg := validDefaults()
	cfg.Tiles = TilesConfig{Type: "mobile", Year: 2024, Quarter: 1}
	assert.NoError(t, cfg.Validate("tiles"))

	cfg.Tiles = TilesConfig{Type: "satellite", Year: 2018, Quarter: 5}
	err := cfg.Validate("tiles")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tiles.type")
	assert.Contains(t, err.Error(), "tiles.quarter")
	assert.Contains(t, err.Error(), "tiles.year")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
