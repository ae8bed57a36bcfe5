package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvClientKey      = "AMAP_KEY"
	EnvSecurityToken  = "AMAP_SECURITY_JS_CODE"
	EnvTileServiceKey = "TDT_KEY"
)

// 文档注释：环境变量凭据来源
// 背景：进程环境优先；为空时读取 Files 中的 dotenv 文件，不写回进程环境。
// 约束：dotenv 文件不存在不视为错误。
type EnvSource struct {
	Files []string
}

func (s EnvSource) Load(context.Context) (Credentials, error) {
	c := Credentials{
		ClientKey:      os.Getenv(EnvClientKey),
		SecurityToken:  os.Getenv(EnvSecurityToken),
		TileServiceKey: os.Getenv(EnvTileServiceKey),
	}
	if len(s.Files) == 0 {
		return c, nil
	}
	for _, f := range s.Files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return c, fmt.Errorf("read %s: %w", f, err)
		}
		c = c.WithFallback(Credentials{
			ClientKey:      vals[EnvClientKey],
			SecurityToken:  vals[EnvSecurityToken],
			TileServiceKey: vals[EnvTileServiceKey],
		})
	}
	return c, nil
}

// 文档注释：管理端 HTTP 凭据来源
// 背景：调用 {BaseURL}/config/map 获取地图配置；兼容直接返回对象与 {"data":{...}} 两种包装。
// 约束：非 200 视为失败；Client 为空时使用 5s 超时的默认客户端。
type HTTPSource struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (s HTTPSource) Load(ctx context.Context) (Credentials, error) {
	var zero Credentials
	if s.BaseURL == "" {
		return zero, errors.New("missing map config url")
	}
	u := strings.TrimRight(s.BaseURL, "/") + "/config/map"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("map config status %d", resp.StatusCode)
	}
	var body struct {
		Credentials
		Data *Credentials `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return zero, fmt.Errorf("decode map config: %w", err)
	}
	if body.Data != nil {
		return *body.Data, nil
	}
	return body.Credentials, nil
}
