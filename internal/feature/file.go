package feature

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mapview/internal/logger"
	"mapview/internal/metrics"
)

// DefaultMaxFileBytes 单个 GeoJSON 文件的读取上限
const DefaultMaxFileBytes = 1024 * 1024

// 文档注释：GeoJSON 文件来源
// 背景：Path 为文件时直接解析；为目录时按文件名顺序读取其中的 .geojson/.json 文件并拼接。
// 约束：超过 MaxBytes 的文件视为错误；目录中单个文件解析失败只跳过该文件。
type FileSource struct {
	Path     string
	MaxBytes int64
}

func (s FileSource) Name() string { return "file" }

func (s FileSource) Features(ctx context.Context) ([]Feature, error) {
	st, err := os.Stat(s.Path)
	if err != nil {
		metrics.FeatureSourceTotal.WithLabelValues("file", "fail").Inc()
		return nil, err
	}
	if !st.IsDir() {
		fs, err := s.readFile(s.Path)
		if err != nil {
			metrics.FeatureSourceTotal.WithLabelValues("file", "fail").Inc()
			return nil, err
		}
		metrics.FeatureSourceTotal.WithLabelValues("file", "ok").Inc()
		return fs, nil
	}
	entries, err := os.ReadDir(s.Path)
	if err != nil {
		metrics.FeatureSourceTotal.WithLabelValues("file", "fail").Inc()
		return nil, err
	}
	var names []string
	for _, ent := range entries {
		ext := strings.ToLower(filepath.Ext(ent.Name()))
		if !ent.IsDir() && (ext == ".geojson" || ext == ".json") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	var out []Feature
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fs, err := s.readFile(filepath.Join(s.Path, name))
		if err != nil {
			logger.For("feature").Warn("geojson_file_skip", "file", name, "err", err)
			continue
		}
		out = append(out, fs...)
	}
	metrics.FeatureSourceTotal.WithLabelValues("file", "ok").Inc()
	return out, nil
}

func (s FileSource) readFile(path string) ([]Feature, error) {
	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxFileBytes
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", filepath.Base(path), limit)
	}
	return ParseCollection(b)
}
