package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "qmt"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("gateway.name", "sim")
	v.SetDefault("gateway.account_id", "")
	v.SetDefault("gateway.session_path", "")
	v.SetDefault("gateway.exchange", "binanceusdm")
	v.SetDefault("gateway.use_sandbox", false)
	v.SetDefault("gateway.poll_interval", "5s")
	v.SetDefault("gateway.retry.max_attempts", 5)
	v.SetDefault("gateway.retry.min_delay", "500ms")
	v.SetDefault("gateway.retry.max_delay", "5s")
	v.SetDefault("gateway.sim.initial_cash", 1000000)
	v.SetDefault("gateway.sim.start_price", 3.0)
	v.SetDefault("gateway.sim.tick_interval", "1s")

	v.SetDefault("trading.symbols", []string{"510050.SH"})
	v.SetDefault("trading.period", "5m")
	v.SetDefault("trading.lot_size", 100)
	v.SetDefault("trading.order_tag", "LiveStrategy")

	v.SetDefault("strategy.name", "rsi")
	v.SetDefault("strategy.rsi.period", 14)
	v.SetDefault("strategy.rsi.overbought", 70)
	v.SetDefault("strategy.rsi.oversold", 30)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("market_hours.enabled", false)
	v.SetDefault("market_hours.morning_open", "09:30")
	v.SetDefault("market_hours.morning_close", "11:30")
	v.SetDefault("market_hours.afternoon_open", "13:00")
	v.SetDefault("market_hours.afternoon_close", "15:00")

	v.SetDefault("engine.poll_interval", "1s")
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.status_interval", "1m")

	v.SetDefault("report.enabled", false)
	v.SetDefault("report.port", 8787)

	v.SetDefault("database.path", "data/qmt_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
