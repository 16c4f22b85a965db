package xconf

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Format 定义配置文件格式。
type Format string

// 支持的配置格式。
const (
	// FormatYAML YAML 格式（推荐用于 K8s ConfigMap）。
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// Load 按优先级加载配置：默认值 < 配置文件 < 环境变量，然后校验。
// path 为空时跳过配置文件。格式由扩展名决定（.yaml/.yml 或 .json）。
func Load(path string, opts ...Option) (Config, error) {
	var source koanf.Provider
	var format Format
	if path != "" {
		f, err := detectFormat(path)
		if err != nil {
			return Config{}, err
		}
		data, err := file.Provider(path).ReadBytes()
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
		source, format = rawbytes.Provider(data), f
	}
	return load(source, format, opts)
}

// LoadBytes 从字节数据加载配置，需要显式指定格式，适用于 K8s ConfigMap 等场景。
// 空数据等同于只使用默认值和环境变量。
func LoadBytes(data []byte, format Format, opts ...Option) (Config, error) {
	if !isValidFormat(format) {
		return Config{}, ErrUnsupportedFormat
	}
	var source koanf.Provider
	if len(data) > 0 {
		source = rawbytes.Provider(data)
	}
	return load(source, format, opts)
}

func load(source koanf.Provider, format Format, opts []Option) (Config, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("%w: defaults: %w", ErrLoadFailed, err)
	}
	if source != nil {
		if err := k.Load(source, parserFor(format)); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}
	if o.useEnv {
		if err := k.Load(env.ProviderWithValue(o.envPrefix, ".", envMapper(o.envPrefix)), nil); err != nil {
			return Config{}, fmt.Errorf("%w: environment: %w", ErrLoadFailed, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// =============================================================================
// 内部辅助函数
// =============================================================================

// listKeys 是以逗号分隔的列表字段。
var listKeys = map[string]bool{
	"store.addrs": true,
}

// envMapper 将 LEASEKIT_LOCK__LEASE_TTL 映射为 lock.lease_ttl，列表字段按逗号拆分。
func envMapper(prefix string) func(key, value string) (string, any) {
	return func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, prefix))
		key = strings.ReplaceAll(key, "__", ".")
		if listKeys[key] {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	}
}

// detectFormat 根据文件扩展名检测配置格式。
func detectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, ext)
	}
}

// isValidFormat 检查格式是否有效。
func isValidFormat(format Format) bool {
	switch format {
	case FormatYAML, FormatJSON:
		return true
	default:
		return false
	}
}

func parserFor(format Format) koanf.Parser {
	if format == FormatJSON {
		return json.Parser()
	}
	return yaml.Parser()
}
