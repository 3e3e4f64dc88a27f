package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/radio"
	"github.com/sells-group/connectivity-cli/internal/towers"
)

// geometryAliases are geometry column names left by other loaders, in the
// order they are tried.
var geometryAliases = []string{"wkb_geometry", "the_geom", "geometry"}

// PrerequisitesSQL enables PostGIS and creates every schema the run uses.
func PrerequisitesSQL(o Options) string {
	seen := map[string]bool{}
	stmts := []string{"CREATE EXTENSION IF NOT EXISTS postgis;"}
	for _, s := range []string{o.Towers.Schema, o.Tiles.Schema, o.TilesSubset.Schema, o.AnalysisSchema} {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		stmts = append(stmts, "CREATE SCHEMA IF NOT EXISTS "+db.QuoteIdent(s)+";")
	}
	return strings.Join(stmts, "\n")
}

// CreateTowersSQL drops and recreates the tower table with cols.
func CreateTowersSQL(t db.Table, cols []db.Column) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\nCREATE TABLE %s (\n  %s\n);",
		t.Ident(), t.Ident(), db.ColumnDefs(cols))
}

// RenameTowerColumnsSQL renames columns that were loaded under a header
// alias, such as latitude or cell, to the tower table's names. It returns ""
// when loaded already uses them.
func RenameTowerColumnsSQL(t db.Table, loaded []db.Column) string {
	var stmts []string
	for i, f := range towers.Fields {
		if i >= len(loaded) || loaded[i].Name == f.Name {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;",
			t.Ident(), db.QuoteIdent(loaded[i].Name), db.QuoteIdent(f.Name)))
	}
	return strings.Join(stmts, "\n")
}

func indexName(t db.Table, suffix string) string {
	return db.QuoteIdent(t.Name + "_" + suffix)
}

func columnExists(t db.Table, column string) string {
	return fmt.Sprintf(`SELECT 1 FROM information_schema.columns
    WHERE table_schema = %s AND table_name = %s AND column_name = %s`,
		db.QuoteLiteral(t.Schema), db.QuoteLiteral(t.Name), db.QuoteLiteral(column))
}

// NormalizeGeometrySQL makes sure t has a point column named geom: an
// alternative geometry column is renamed, otherwise one is added. Points are
// then built from lon/lat wherever geom is still null, and a GIST index is
// created.
func NormalizeGeometrySQL(t db.Table) string {
	var b strings.Builder
	b.WriteString("DO $$\nBEGIN\n")
	fmt.Fprintf(&b, "  IF NOT EXISTS (%s) THEN\n", columnExists(t, "geom"))
	for i, alias := range geometryAliases {
		kw := "ELSIF"
		if i == 0 {
			kw = "IF"
		}
		fmt.Fprintf(&b, "    %s EXISTS (%s) THEN\n", kw, columnExists(t, alias))
		fmt.Fprintf(&b, "      ALTER TABLE %s RENAME COLUMN %s TO geom;\n", t.Ident(), db.QuoteIdent(alias))
	}
	b.WriteString("    ELSE\n")
	fmt.Fprintf(&b, "      ALTER TABLE %s ADD COLUMN geom geometry(Point,4326);\n", t.Ident())
	b.WriteString("    END IF;\n  END IF;\nEND\n$$;\n\n")

	fmt.Fprintf(&b, `UPDATE %s
   SET geom = ST_SetSRID(ST_MakePoint(lon, lat), 4326)
 WHERE geom IS NULL AND lon IS NOT NULL AND lat IS NOT NULL;

CREATE INDEX IF NOT EXISTS %s
  ON %s USING GIST (geom);`, t.Ident(), indexName(t, "geom_gix"), t.Ident())
	return b.String()
}

// SubsetSQL adds polygon geometry to the base tile table from its WKT text
// and rebuilds the region subset.
func SubsetSQL(o Options) string {
	base, sub := o.Tiles, o.TilesSubset
	return fmt.Sprintf(`ALTER TABLE %[1]s
  ADD COLUMN IF NOT EXISTS geom geometry(Polygon,4326);

UPDATE %[1]s
   SET geom = ST_GeomFromText(tile, 4326)
 WHERE geom IS NULL AND tile LIKE 'POLYGON(%%';

CREATE INDEX IF NOT EXISTS %[2]s
  ON %[1]s USING GIST (geom);

DROP TABLE IF EXISTS %[3]s;
CREATE TABLE %[3]s AS
SELECT o.*
  FROM %[1]s o
 WHERE o.geom IS NOT NULL
   AND ST_Intersects(o.geom, %[4]s);

CREATE INDEX IF NOT EXISTS %[5]s
  ON %[3]s USING GIST (geom);

CREATE INDEX IF NOT EXISTS %[6]s
  ON %[3]s (%[7]s);`,
		base.Ident(), indexName(base, "geom_gix"), sub.Ident(), o.Region.EnvelopeSQL(),
		indexName(sub, "geom_gix"), indexName(sub, o.TileIDColumn+"_idx"), db.QuoteIdent(o.TileIDColumn))
}

// ClassifySQL adds radio_class to t and fills it for unclassified rows.
func ClassifySQL(t db.Table, c *radio.Classifier) string {
	return fmt.Sprintf(`ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS radio_class text;

UPDATE %[1]s
   SET radio_class = %[2]s
 WHERE radio_class IS NULL;`, t.Ident(), c.CaseSQL("radio"))
}

// AggregateSQL returns the statements that rebuild the analysis tables, one
// table per element.
func AggregateSQL(o Options) []string {
	id := "o." + db.QuoteIdent(o.TileIDColumn)
	sub, towers := o.TilesSubset.Ident(), o.Towers.Ident()
	means := `AVG(o.avg_d_kbps)::numeric(12,2) AS avg_download_kbps,
       AVG(o.avg_u_kbps)::numeric(12,2) AS avg_upload_kbps`

	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + db.QuoteIdent(o.AnalysisSchema) + ";",
		rebuild(o.TowersPerTile(), fmt.Sprintf(`SELECT %[1]s AS tile_id,
       COUNT(t.*) AS towers_all,
       %[2]s
  FROM %[3]s o
  LEFT JOIN %[4]s t ON ST_Intersects(o.geom, t.geom)
 GROUP BY %[1]s`, id, means, sub, towers), "tile_id"),
		rebuild(o.Centroids(), fmt.Sprintf(`SELECT %s AS tile_id, ST_Centroid(o.geom) AS geom
  FROM %s o`, id, sub), "tile_id") + fmt.Sprintf("\nCREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom);",
			indexName(o.Centroids(), "gix"), o.Centroids().Ident()),
	}

	for _, c := range o.Categories {
		s := Slug(c)
		count := db.QuoteIdent("towers_" + s)
		dist := db.QuoteIdent("meters_to_nearest_" + s)
		cat := db.QuoteLiteral(c)

		stmts = append(stmts,
			rebuild(o.CategoryCounts(c), fmt.Sprintf(`SELECT %[1]s AS tile_id,
       COALESCE(SUM(CASE WHEN t.radio_class = %[2]s THEN 1 ELSE 0 END), 0)::bigint AS %[3]s,
       %[4]s
  FROM %[5]s o
  LEFT JOIN %[6]s t ON ST_Intersects(o.geom, t.geom)
 GROUP BY %[1]s`, id, cat, count, means, sub, towers), "tile_id"),

			rebuild(o.NearestDistance(c), fmt.Sprintf(`SELECT c.tile_id,
       MIN(ST_DistanceSphere(c.geom, t.geom)) AS %s
  FROM %s c
  JOIN %s t ON t.radio_class = %s AND t.geom IS NOT NULL
 GROUP BY c.tile_id`, dist, o.Centroids().Ident(), towers, cat), "tile_id"),

			rebuild(o.Summary(c), fmt.Sprintf(`SELECT l.tile_id,
       l.%s,
       l.avg_download_kbps,
       l.avg_upload_kbps,
       d.%s
  FROM %s l
  LEFT JOIN %s d USING (tile_id)`, count, dist, o.CategoryCounts(c).Ident(), o.NearestDistance(c).Ident()), "tile_id"),
		)
	}
	return stmts
}

// rebuild drops and recreates t from query and indexes column.
func rebuild(t db.Table, query, column string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %[1]s;
CREATE TABLE %[1]s AS
%[2]s;
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (%[4]s);`,
		t.Ident(), query, indexName(t, column+"_idx"), db.QuoteIdent(column))
}

// ExportSQL renders source joined to the subset polygons as one
// FeatureCollection, features ordered by tile_id. An empty source yields an
// empty features list, never null.
func ExportSQL(o Options, source db.Table) string {
	return fmt.Sprintf(`WITH data AS (
  SELECT o.geom, a.*
    FROM %s o
    JOIN %s a ON a.tile_id = o.%s
)
SELECT jsonb_build_object(
  'type', 'FeatureCollection',
  'features', COALESCE(jsonb_agg(
    jsonb_build_object(
      'type', 'Feature',
      'geometry', ST_AsGeoJSON(geom)::jsonb,
      'properties', to_jsonb(data) - 'geom'
    ) ORDER BY tile_id), '[]'::jsonb)
)::text
  FROM data;`, o.TilesSubset.Ident(), source.Ident(), db.QuoteIdent(o.TileIDColumn))
}

// CountSQL counts the rows of t.
func CountSQL(t db.Table) string {
	return "SELECT count(*)::text FROM " + t.Ident()
}
