package market

import (
	"strings"
	"sync/atomic"

	"crypto-pulse/internal/domain"
)

// TrendingRankThreshold монеты с рангом не хуже порога считаются трендовыми.
const TrendingRankThreshold = 15

// TrendingSet набор трендовых идентификаторов из поиска CoinGecko.
type TrendingSet struct {
	Symbols map[string]struct{}
	CoinIDs map[string]struct{}
}

// NewTrendingSet собирает набор из тикеров и идентификаторов монет.
func NewTrendingSet(symbols, coinIDs []string) TrendingSet {
	set := TrendingSet{
		Symbols: make(map[string]struct{}, len(symbols)),
		CoinIDs: make(map[string]struct{}, len(coinIDs)),
	}
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			set.Symbols[s] = struct{}{}
		}
	}
	for _, id := range coinIDs {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			set.CoinIDs[id] = struct{}{}
		}
	}
	return set
}

// TVLData срез DefiLlama: TVL сетей и протоколов по имени.
type TVLData struct {
	Chains    map[string]domain.TVLEntry
	Protocols map[string]domain.TVLEntry
}

// SymbolMapping связывает символ биржи с внешними ключами.
type SymbolMapping interface {
	BaseAsset(symbol string) string
}

// AnnotationState общие данные фоновых обновлений. Каждое поле меняется
// целиком одним владельцем, читатели видят либо старое, либо новое значение.
type AnnotationState struct {
	mapping SymbolMapping
	tvlKeys map[string]string
	coinIDs map[string]string

	trending  atomic.Pointer[TrendingSet]
	ranks     atomic.Pointer[map[string]int]
	defi      atomic.Pointer[TVLSnapshot]
	sentiment atomic.Pointer[domain.Sentiment]
}

// NewAnnotationState создаёт пустое состояние. tvlKeys: символ -> сеть или
// протокол, coinIDs: символ -> id CoinGecko.
func NewAnnotationState(mapping SymbolMapping, tvlKeys, coinIDs map[string]string) *AnnotationState {
	return &AnnotationState{mapping: mapping, tvlKeys: tvlKeys, coinIDs: coinIDs}
}

// SetTrending заменяет набор трендов.
func (s *AnnotationState) SetTrending(set TrendingSet) { s.trending.Store(&set) }

// Trending возвращает текущий набор трендов.
func (s *AnnotationState) Trending() TrendingSet {
	if p := s.trending.Load(); p != nil {
		return *p
	}
	return TrendingSet{}
}

// SetRanks заменяет ранги по капитализации (ключ: символ биржи).
func (s *AnnotationState) SetRanks(ranks map[string]int) { s.ranks.Store(&ranks) }

// SetDeFi заменяет TVL, потоки стейблкоинов и глобальную статистику
// одним снимком.
func (s *AnnotationState) SetDeFi(snap TVLSnapshot) { s.defi.Store(&snap) }

// SetSentiment заменяет индекс страха и жадности.
func (s *AnnotationState) SetSentiment(v domain.Sentiment) { s.sentiment.Store(&v) }

// Sentiment возвращает индекс, если он уже загружен.
func (s *AnnotationState) Sentiment() (domain.Sentiment, bool) {
	if p := s.sentiment.Load(); p != nil {
		return *p, true
	}
	return domain.Sentiment{}, false
}

// CoinIDs возвращает отображение символ -> id CoinGecko.
func (s *AnnotationState) CoinIDs() map[string]string { return s.coinIDs }

// Annotation аннотации одного символа.
type Annotation struct {
	IsTrending  bool
	TVL         *float64
	TVLChange1d *float64
	MoneyFlow   *float64
	Global      *domain.GlobalStats
}

// Annotate собирает аннотации символа из последних снимков состояния.
func (s *AnnotationState) Annotate(symbol string) Annotation {
	var a Annotation
	a.IsTrending = s.isTrending(symbol)

	snap := s.defi.Load()
	if snap == nil {
		return a
	}
	if key := s.tvlKeys[symbol]; key != "" {
		entry, ok := snap.Data.Chains[key]
		if !ok {
			entry, ok = snap.Data.Protocols[key]
		}
		if ok {
			tvl := entry.TVL
			a.TVL = &tvl
			if entry.Change1d != nil {
				change := *entry.Change1d
				a.TVLChange1d = &change
			}
		}
		if flow, ok := snap.Flows[key]; ok {
			a.MoneyFlow = &flow
		}
	}
	if snap.Global != (domain.GlobalStats{}) {
		stats := snap.Global
		a.Global = &stats
	}
	return a
}

func (s *AnnotationState) isTrending(symbol string) bool {
	if ranks := s.ranks.Load(); ranks != nil {
		if rank, ok := (*ranks)[symbol]; ok && rank > 0 && rank <= TrendingRankThreshold {
			return true
		}
	}
	set := s.trending.Load()
	if set == nil {
		return false
	}
	if _, ok := set.Symbols[s.mapping.BaseAsset(symbol)]; ok {
		return true
	}
	if id := s.coinIDs[symbol]; id != "" {
		if _, ok := set.CoinIDs[id]; ok {
			return true
		}
	}
	return false
}
