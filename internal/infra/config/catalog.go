package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog статический справочник символов и каналов.
type Catalog struct {
	Symbols      []string          `yaml:"symbols"`
	QuoteAssets  []string          `yaml:"quote_assets"`
	TVLKeys      map[string]string `yaml:"tvl_keys"`
	ChainSlugs   map[string]string `yaml:"chain_slugs"`
	Protocols    []string          `yaml:"protocols"`
	CoinGeckoIDs map[string]string `yaml:"coingecko_ids"`
	Channels     []string          `yaml:"channels"`
	Demo         struct {
		Channels []DemoChannel `yaml:"channels"`
		Texts    []string      `yaml:"texts"`
	} `yaml:"demo"`
}

// DemoChannel канал-источник синтетических сообщений.
type DemoChannel struct {
	Username string `yaml:"username"`
	Title    string `yaml:"title"`
}

// LoadCatalog читает справочник из файла или встроенной копии.
func LoadCatalog(path string) (Catalog, error) {
	data := defaultCatalog
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Catalog{}, fmt.Errorf("чтение справочника: %w", err)
		}
		data = raw
	}
	return ParseCatalog(data)
}

// ParseCatalog разбирает YAML справочника.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("разбор справочника: %w", err)
	}
	if len(c.Symbols) == 0 {
		return Catalog{}, fmt.Errorf("справочник: пустой список символов")
	}
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if len(c.QuoteAssets) == 0 {
		c.QuoteAssets = []string{"USDT"}
	}
	return c, nil
}

// BaseAsset отрезает котируемую валюту: BTCUSDT -> BTC.
func (c Catalog) BaseAsset(symbol string) string {
	for _, quote := range c.QuoteAssets {
		if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
			return base
		}
	}
	return symbol
}

// ChainSlug возвращает slug DefiLlama для исторического TVL сети.
func (c Catalog) ChainSlug(chain string) string {
	if slug, ok := c.ChainSlugs[chain]; ok {
		return slug
	}
	return chain
}
