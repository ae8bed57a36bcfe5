package mapview

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("missing map credential")
	ErrProviderLoad      = errors.New("map provider load failed")
	ErrNotMounted        = errors.New("map not mounted")
	ErrTornDown          = errors.New("map controller torn down")
	ErrStaleMount        = errors.New("mount superseded")
	ErrUnknownBaseMap    = errors.New("unknown base map")
)

// 文档注释：凭据缺失
// 背景：挂载中止，控制器回到 Unmounted，凭据更新后可重试；Notice 为面向用户的提示文案。
type ConfigurationError struct {
	Variant    Variant
	Credential string
	Notice     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s not configured", e.Variant, e.Credential)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrMissingCredential }

// 文档注释：SDK/模块加载失败
// 约束：不缓存失败结果，下一次 Mount 会重新加载。
type ProviderLoadError struct {
	Variant Variant
	Err     error
	Notice  string
}

func (e *ProviderLoadError) Error() string {
	return fmt.Sprintf("%s: load provider: %v", e.Variant, e.Err)
}

func (e *ProviderLoadError) Is(target error) bool { return target == ErrProviderLoad }

func (e *ProviderLoadError) Unwrap() error { return e.Err }
