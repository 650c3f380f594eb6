package config

import "testing"

func TestDefaultCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(c.Symbols) != 20 {
		t.Fatalf("ожидали 20 символов, получили %d", len(c.Symbols))
	}
	if c.TVLKeys["BTCUSDT"] != "Bitcoin" {
		t.Fatalf("неверный ключ TVL: %q", c.TVLKeys["BTCUSDT"])
	}
	if c.ChainSlug("Binance") != "BSC" || c.ChainSlug("Solana") != "Solana" {
		t.Fatalf("неверные slug сетей")
	}
	if len(c.Channels) == 0 || len(c.Demo.Texts) == 0 {
		t.Fatalf("ожидали каналы и демо-тексты")
	}
	if len(c.Demo.Channels) != 4 || c.Demo.Channels[2].Title != "Whale Alert" {
		t.Fatalf("неверные демо-каналы: %+v", c.Demo.Channels)
	}
}

func TestBaseAsset(t *testing.T) {
	c, err := ParseCatalog([]byte("symbols: [btcusdt]\nquote_assets: [USDT]\n"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if c.Symbols[0] != "BTCUSDT" {
		t.Fatalf("символ не приведён к верхнему регистру: %s", c.Symbols[0])
	}
	cases := map[string]string{"BTCUSDT": "BTC", "OPUSDT": "OP", "USDT": "USDT", "ETHBTC": "ETHBTC"}
	for in, want := range cases {
		if got := c.BaseAsset(in); got != want {
			t.Fatalf("%s: ожидали %s, получили %s", in, want, got)
		}
	}
}

func TestParseCatalogRejectsEmpty(t *testing.T) {
	if _, err := ParseCatalog([]byte("channels: [a]\n")); err == nil {
		t.Fatalf("ожидали ошибку для пустого списка символов")
	}
}
