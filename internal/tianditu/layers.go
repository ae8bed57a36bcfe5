package tianditu

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"mapview/internal/geo"
)

const (
	// StyleVector 矢量底图（vec + cva）
	StyleVector = "vector"
	// StyleImage 影像底图（img + cia）
	StyleImage = "image"

	// Subdomains 瓦片子域名 t0..t7
	Subdomains = 8
	// MaxTileZoom 瓦片服务最大级别
	MaxTileZoom = 18

	baseZIndex  = 0
	labelZIndex = 100

	// maxVisibleTiles 单图层单次枚举的瓦片上限
	maxVisibleTiles = 1024
)

// LayerIDs 一种底图样式对应的底图与注记图层编号
type LayerIDs struct {
	Base  string
	Label string
}

var styles = map[string]LayerIDs{
	StyleVector: {Base: "vec", Label: "cva"},
	StyleImage:  {Base: "img", Label: "cia"},
}

// LayersFor：样式对应的图层编号；空样式按矢量处理
func LayersFor(style string) (LayerIDs, bool) {
	if style == "" {
		style = StyleVector
	}
	ids, ok := styles[style]
	return ids, ok
}

// 文档注释：WMTS 瓦片图层
// 背景：对应 OpenLayers 的 TileLayer + XYZ 源；URL 模板中 {0-7} 为子域名轮换，{z}/{x}/{y} 为瓦片行列号。
type TileLayer struct {
	ID      string
	Key     string
	MaxZoom int

	zIndex int
}

func newTileLayer(id, key string, z int) *TileLayer {
	return &TileLayer{ID: id, Key: key, MaxZoom: MaxTileZoom, zIndex: z}
}

func (l *TileLayer) ZIndex() int { return l.zIndex }

func (l *TileLayer) SetZIndex(z int) { l.zIndex = z }

// Template：带占位符的 URL 模板
func (l *TileLayer) Template() string {
	return fmt.Sprintf("https://t{0-7}.tianditu.gov.cn/%s_w/wmts?SERVICE=WMTS&REQUEST=GetTile&VERSION=1.0.0&LAYER=%s&STYLE=default&TILEMATRIXSET=w&FORMAT=tiles&TILEMATRIX={z}&TILEROW={y}&TILECOL={x}&tk=%s", l.ID, l.ID, l.Key)
}

// URL：展开模板；子域名取 (x+y)%8
func (l *TileLayer) URL(t maptile.Tile) string {
	sub := strconv.Itoa(int((uint64(t.X) + uint64(t.Y)) % Subdomains))
	r := strings.NewReplacer(
		"{0-7}", sub,
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	)
	return r.Replace(l.Template())
}

// Tile 可见瓦片
type Tile struct {
	Layer string       `json:"layer"`
	Tile  maptile.Tile `json:"-"`
	Z     int          `json:"z"`
	X     uint32       `json:"x"`
	Y     uint32       `json:"y"`
	URL   string       `json:"url"`
}

// 文档注释：枚举视口覆盖的瓦片
// 背景：取四舍五入后的整数级别（不超过图层最大级别），按视口经纬度范围的左上与右下角求行列号范围。
// 约束：纬度截断到 Web Mercator 有效范围；超过上限时只返回前 maxVisibleTiles 个。
func (l *TileLayer) VisibleTiles(vp geo.Viewport) []Tile {
	z := int(math.Round(vp.Zoom))
	if z > l.MaxZoom {
		z = l.MaxZoom
	}
	if z < 0 {
		z = 0
	}
	ext := vp.Extent()
	sw := geo.ToWGS84(ext.Min)
	ne := geo.ToWGS84(ext.Max)
	zoom := maptile.Zoom(z)
	tl := maptile.At(clampLngLat(orb.Point{sw[0], ne[1]}), zoom)
	br := maptile.At(clampLngLat(orb.Point{ne[0], sw[1]}), zoom)
	var out []Tile
	for y := tl.Y; y <= br.Y; y++ {
		for x := tl.X; x <= br.X; x++ {
			if len(out) >= maxVisibleTiles {
				return out
			}
			t := maptile.New(x, y, zoom)
			out = append(out, Tile{Layer: l.ID, Tile: t, Z: z, X: x, Y: y, URL: l.URL(t)})
		}
	}
	return out
}

const maxLat = 85.05112878

func clampLngLat(p orb.Point) orb.Point {
	p[0] = math.Max(-180, math.Min(180-1e-9, p[0]))
	p[1] = math.Max(-maxLat, math.Min(maxLat, p[1]))
	return p
}
