package feature

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"mapview/internal/logger"
	"mapview/internal/metrics"
)

// DefaultRowLimit PostGIS 来源默认最大行数
const DefaultRowLimit = 1000

// 文档注释：PostGIS 表要素来源
// 背景：几何列以 ST_AsGeoJSON 读出，其余列作为要素属性；未指定几何列时取 information_schema 中第一个 geometry/geography 列。
// 约束：标识符统一 pq.QuoteIdentifier 转义；Transform 为真时先转换到 EPSG:4326；名为 id 的列同时作为要素 ID。
type PostGISSource struct {
	DB         *sql.DB
	Schema     string
	Table      string
	GeomColumn string
	Limit      int
	Transform  bool
}

func (s PostGISSource) Name() string { return "postgis" }

func (s PostGISSource) Features(ctx context.Context) ([]Feature, error) {
	t0 := time.Now()
	fs, err := s.query(ctx)
	if err != nil {
		metrics.FeatureSourceTotal.WithLabelValues("postgis", "fail").Inc()
		logger.For("feature").Error("postgis_query_error", "table", s.Table, "err", err)
		return nil, err
	}
	metrics.FeatureSourceTotal.WithLabelValues("postgis", "ok").Inc()
	logger.For("feature").Debug("postgis_query_done", "table", s.Table, "features", len(fs), "duration_ms", time.Since(t0).Milliseconds())
	return fs, nil
}

type column struct {
	name string
	udt  string
}

func (s PostGISSource) query(ctx context.Context) ([]Feature, error) {
	if s.DB == nil || s.Table == "" {
		return nil, errors.New("postgis source not configured")
	}
	schema := s.Schema
	if schema == "" {
		schema = "public"
	}
	rows, err := s.DB.QueryContext(ctx,
		"SELECT column_name, udt_name FROM information_schema.columns WHERE table_schema=$1 AND table_name=$2 ORDER BY ordinal_position",
		schema, s.Table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.name, &c.udt); err != nil {
			rows.Close()
			return nil, err
		}
		cols = append(cols, c)
	}
	rows.Close()
	q, geomIdx, err := buildSelect(schema, s.Table, cols, s.GeomColumn, s.limit(), s.Transform)
	if err != nil {
		return nil, err
	}
	data, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	defer data.Close()
	var out []Feature
	for data.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := data.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, rowFeature(cols, vals, geomIdx))
	}
	return out, data.Err()
}

func (s PostGISSource) limit() int {
	if s.Limit <= 0 {
		return DefaultRowLimit
	}
	return s.Limit
}

func isGeomColumn(c column) bool { return c.udt == "geometry" || c.udt == "geography" }

// buildSelect：拼装查询语句，返回几何列下标
func buildSelect(schema, table string, cols []column, geomCol string, limit int, transform bool) (string, int, error) {
	geomIdx := -1
	for i, c := range cols {
		if geomCol != "" && c.name == geomCol || geomCol == "" && isGeomColumn(c) {
			geomIdx = i
			break
		}
	}
	if geomIdx < 0 {
		return "", -1, fmt.Errorf("no geometry column in %s.%s", schema, table)
	}
	sel := make([]string, len(cols))
	for i, c := range cols {
		id := pq.QuoteIdentifier(c.name)
		switch {
		case i == geomIdx && transform:
			sel[i] = fmt.Sprintf("ST_AsGeoJSON(ST_Transform(%s, 4326)) AS %s", id, id)
		case isGeomColumn(c):
			sel[i] = fmt.Sprintf("ST_AsGeoJSON(%s) AS %s", id, id)
		default:
			sel[i] = id
		}
	}
	q := fmt.Sprintf("SELECT %s FROM %s.%s LIMIT %d", strings.Join(sel, ", "), pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), limit)
	return q, geomIdx, nil
}

func rowFeature(cols []column, vals []any, geomIdx int) Feature {
	f := Feature{Properties: make(map[string]any, len(cols))}
	for i, c := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339)
		}
		if i == geomIdx {
			if s, ok := v.(string); ok && s != "" {
				var g Geometry
				if err := json.Unmarshal([]byte(s), &g); err == nil {
					f.Geometry = &g
				}
			}
			continue
		}
		if c.name == "id" {
			f.ID = v
		}
		f.Properties[c.name] = v
	}
	return f
}
