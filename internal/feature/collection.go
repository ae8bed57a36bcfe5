package feature

import (
	"encoding/json"
	"errors"
	"strings"

	"mapview/internal/logger"
	"mapview/internal/metrics"
)

// 文档注释：解析 GeoJSON 文本为要素列表
// 背景：接受 FeatureCollection、单个 Feature、要素数组以及裸几何；逐个要素解码，单个要素结构错误只跳过该要素。
// 约束：顶层不是合法 JSON 时返回错误；几何类型与坐标的校验推迟到渲染阶段。
func ParseCollection(data []byte) ([]Feature, error) {
	var head struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return decodeEach(arr), nil
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch strings.ToLower(head.Type) {
	case "featurecollection":
		return decodeEach(head.Features), nil
	case "feature":
		return decodeEach([]json.RawMessage{data}), nil
	case "":
		return nil, errors.New("geojson: missing type")
	}
	var g Geometry
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return []Feature{{Geometry: &g}}, nil
}

func decodeEach(raws []json.RawMessage) []Feature {
	out := make([]Feature, 0, len(raws))
	for i, raw := range raws {
		var f Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.For("feature").Debug("feature_decode_skip", "index", i, "err", err)
			metrics.FeaturesSkippedTotal.WithLabelValues("decode").Inc()
			continue
		}
		out = append(out, f)
	}
	return out
}

// MarshalCollection：编码为 FeatureCollection；Payload 不参与序列化
func MarshalCollection(fs []Feature) ([]byte, error) {
	if fs == nil {
		fs = []Feature{}
	}
	return json.Marshal(struct {
		Type     string    `json:"type"`
		Features []Feature `json:"features"`
	}{Type: "FeatureCollection", Features: fs})
}
