package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 通用配置接口
type Config interface {
	Validate() error
}

// LoadConfig 从 YAML 文件加载配置，文件中未出现的字段保留 cfg 里的原值
func LoadConfig(path string, cfg Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	return nil
}

// IsNotExist 判断错误是否由配置文件不存在引起
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
