package rag

import "sort"

// CitationSummary is the aggregated citation count for one source.
type CitationSummary struct {
	SourceID string `json:"sourceId"`
	FileName string `json:"fileName"`
	Count    int    `json:"count"`
	Quote    string `json:"quote,omitempty"`
}

// NameResolver maps a source identifier to a human-readable file name. It
// reports false when the identifier is unknown.
type NameResolver func(sourceID string) (string, bool)

// CitationAggregator collects citation annotations as they arrive on a
// stream and folds them into per-source counts. Sources are remembered in
// first-seen order so equal counts keep a stable, deterministic order.
type CitationAggregator struct {
	order  []string
	counts map[string]int
	names  map[string]string
	quotes map[string]string
}

// NewCitationAggregator creates an empty aggregator.
func NewCitationAggregator() *CitationAggregator {
	return &CitationAggregator{
		counts: make(map[string]int),
		names:  make(map[string]string),
		quotes: make(map[string]string),
	}
}

// Add records one citation of the given source. displayName and quote are
// what the upstream attached to the annotation, if anything; the first
// non-empty value of each wins.
func (a *CitationAggregator) Add(sourceID, displayName, quote string) {
	if sourceID == "" {
		return
	}
	if _, seen := a.counts[sourceID]; !seen {
		a.order = append(a.order, sourceID)
	}
	a.counts[sourceID]++
	if displayName != "" && a.names[sourceID] == "" {
		a.names[sourceID] = displayName
	}
	if quote != "" && a.quotes[sourceID] == "" {
		a.quotes[sourceID] = quote
	}
}

// Finalize returns the collected citations sorted by count, most cited
// first. Names are resolved best effort: the upstream display name wins,
// then the resolver, then the raw source id. Resolution failures never drop
// a citation.
func (a *CitationAggregator) Finalize(resolve NameResolver) []CitationSummary {
	summaries := make([]CitationSummary, 0, len(a.order))
	for _, id := range a.order {
		name := a.names[id]
		if name == "" && resolve != nil {
			if resolved, ok := resolve(id); ok {
				name = resolved
			}
		}
		if name == "" {
			name = id
		}
		summaries = append(summaries, CitationSummary{
			SourceID: id,
			FileName: name,
			Count:    a.counts[id],
			Quote:    a.quotes[id],
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Count > summaries[j].Count
	})
	return summaries
}
