package registry

import (
	"sort"
	"strings"
)

// Catalog 已知能力名的封闭集合
type Catalog struct {
	strict bool
	names  map[string]struct{}
}

// NewCatalog 创建能力目录，strict 为 false 时接受任意非空能力名
func NewCatalog(names []string, strict bool) *Catalog {
	c := &Catalog{strict: strict, names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			c.names[name] = struct{}{}
		}
	}
	return c
}

// Allows 判断能力名能否注册
func (c *Catalog) Allows(name string) bool {
	if !c.strict {
		return true
	}
	_, ok := c.names[name]
	return ok
}

// Strict 是否只接受目录内的能力名
func (c *Catalog) Strict() bool {
	return c.strict
}

// Names 返回排序后的目录
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.names))
	for name := range c.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
