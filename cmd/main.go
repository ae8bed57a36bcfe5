// 程序入口：仅负责读取配置、初始化依赖并启动预览服务；路由注册在 internal/preview 以便扩展
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mapview/internal/amap"
	"mapview/internal/config"
	"mapview/internal/feature"
	"mapview/internal/logger"
	"mapview/internal/mapview"
	"mapview/internal/metrics"
	"mapview/internal/middleware"
	"mapview/internal/preview"
	"mapview/internal/utils"
)

func envInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	envFiles := []string{".env", filepath.Join("data", "env", ".env")}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	// 文档注释：凭据加载
	// 背景：配置了管理端地址时优先拉取 /config/map，失败或缺项时回退到环境变量与 dotenv 文件。
	var primary config.Source = config.EnvSource{Files: envFiles}
	if u := os.Getenv("MAP_CONFIG_URL"); u != "" {
		primary = config.HTTPSource{BaseURL: u, Token: os.Getenv("MAP_CONFIG_TOKEN")}
		l.Debug("config_map_source", "url", u)
	}
	loader := config.NewLoader(primary, config.EnvSource{Files: envFiles})
	creds := loader.Load(context.Background())
	l.Info("map_credentials", "amap", creds.HasClientKey(), "amap_security", creds.SecurityToken != "", "tianditu", creds.HasTileServiceKey())

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
			rc = nil
		} else {
			l.Info("redis_ping_ok")
		}
	}

	src, db := featureSource(l, rc)
	if db != nil {
		defer db.Close()
	}

	rt := amap.DefaultRuntime()
	if ep := os.Getenv("AMAP_SDK_ENDPOINT"); ep != "" {
		rt = amap.NewRuntime(ep, &http.Client{Timeout: 10 * time.Second})
	}
	reg := preview.NewRegistry(amap.Options{
		Runtime:       rt,
		CorrectOffset: os.Getenv("AMAP_CORRECT_OFFSET") == "true",
	})

	var store mapview.ViewStore
	if rc != nil {
		store = mapview.RedisViewStore{Client: rc}
	}
	ctrl := mapview.NewController(mapview.Options{
		Registry:    reg,
		Credentials: creds,
		BaseMap:     os.Getenv("BASE_MAP"),
		Store:       store,
		StoreKey:    os.Getenv("VIEW_STORE_KEY"),
	})
	if err := ctrl.Restore(context.Background()); err != nil {
		l.Error("view_restore_error", "err", err)
	}

	surface := mapview.Rect{
		Name:   "preview",
		Width:  envInt("SURFACE_WIDTH", 1280),
		Height: envInt("SURFACE_HEIGHT", 720),
	}
	srv := preview.New(preview.Options{Controller: ctrl, Surface: surface, Source: src})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := srv.Mount(ctx); err != nil {
		// 背景：挂载失败可通过 POST {API_BASE}/mount 重试，不阻断服务启动
		l.Error("map_mount_error", "err", err)
	}
	cancel()

	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, preview.BuildRoutes(srv)))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		l.Info("shutdown_begin")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error("listen_error", "err", err)
	}
	srv.Close()
	l.Info("shutdown_done")
}

// 文档注释：选择要素来源
// 背景：FEATURE_FILE 指向 GeoJSON 文件或目录；否则 FEATURE_TABLE 指向 PostGIS 表；两者都未配置时为空集合。配置了 Redis 时外层包一层缓存。
func featureSource(l interface {
	Info(string, ...any)
	Error(string, ...any)
}, rc *redis.Client) (feature.Source, *sql.DB) {
	var src feature.Source = feature.Static{}
	var db *sql.DB
	if path := os.Getenv("FEATURE_FILE"); path != "" {
		src = feature.FileSource{Path: path, MaxBytes: int64(envInt("FEATURE_FILE_MAX_BYTES", feature.DefaultMaxFileBytes))}
		l.Info("feature_source", "kind", "file", "path", path)
	} else if table := os.Getenv("FEATURE_TABLE"); table != "" {
		d, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
		} else if err := d.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
			_ = d.Close()
		} else {
			l.Info("db_ping_ok")
			db = d
			src = feature.PostGISSource{
				DB:         db,
				Schema:     os.Getenv("FEATURE_SCHEMA"),
				Table:      table,
				GeomColumn: os.Getenv("FEATURE_GEOM_COLUMN"),
				Limit:      envInt("FEATURE_LIMIT", 0),
				Transform:  os.Getenv("FEATURE_TRANSFORM") == "true",
			}
			l.Info("feature_source", "kind", "postgis", "table", table)
		}
	}
	if rc != nil {
		src = feature.CachedSource{
			Source: src,
			Client: rc,
			TTL:    time.Duration(envInt("FEATURE_CACHE_TTL_S", 300)) * time.Second,
		}
	}
	return src, db
}
