// Package catalog holds the chart of accounts in memory and answers
// nearest-neighbour queries restricted to parts of the hierarchy.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
)

// EntrySource loads catalog entries.
type EntrySource interface {
	GetCatalogEntries(ctx context.Context) ([]model.CatalogEntry, error)
}

// Index is an immutable in-memory view of the chart of accounts. It is safe
// for concurrent use.
type Index struct {
	entries     map[string]model.CatalogEntry
	subfamilies map[string][]model.CatalogEntry
	families    []model.CatalogEntry
	accounts    []model.CatalogEntry
}

// Load reads every entry from source and builds an index.
func Load(ctx context.Context, source EntrySource) (*Index, error) {
	entries, err := source.GetCatalogEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return NewIndex(entries), nil
}

// NewIndex builds an index. Family and subfamily headers missing from
// entries are synthesized from the account codes beneath them.
func NewIndex(entries []model.CatalogEntry) *Index {
	ix := &Index{
		entries:     make(map[string]model.CatalogEntry, len(entries)),
		subfamilies: make(map[string][]model.CatalogEntry),
	}

	for _, entry := range entries {
		entry.Normalize()
		ix.entries[entry.Code] = entry
	}

	for _, entry := range entries {
		entry.Normalize()
		if entry.Level == model.LevelFamily {
			continue
		}
		if _, ok := ix.entries[entry.FamilyCode]; !ok {
			ix.entries[entry.FamilyCode] = model.CatalogEntry{
				Code: entry.FamilyCode, FamilyCode: entry.FamilyCode, Name: entry.FamilyCode, Level: model.LevelFamily,
			}
		}
		if _, ok := ix.entries[entry.SubfamilyCode]; !ok {
			ix.entries[entry.SubfamilyCode] = model.CatalogEntry{
				Code: entry.SubfamilyCode, FamilyCode: entry.FamilyCode, SubfamilyCode: entry.SubfamilyCode,
				Name: entry.SubfamilyCode, Level: model.LevelSubfamily,
			}
		}
	}

	for _, entry := range ix.entries {
		switch entry.Level {
		case model.LevelFamily:
			ix.families = append(ix.families, entry)
		case model.LevelSubfamily:
			ix.subfamilies[entry.FamilyCode] = append(ix.subfamilies[entry.FamilyCode], entry)
		case model.LevelAccount:
			ix.accounts = append(ix.accounts, entry)
		}
	}

	byCode := func(list []model.CatalogEntry) {
		sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
	}
	byCode(ix.families)
	byCode(ix.accounts)
	for family := range ix.subfamilies {
		byCode(ix.subfamilies[family])
	}

	return ix
}

// Len returns the number of retrievable accounts.
func (ix *Index) Len() int {
	return len(ix.accounts)
}

// Entry returns the entry for code at any level.
func (ix *Index) Entry(code string) (model.CatalogEntry, bool) {
	entry, ok := ix.entries[code]
	return entry, ok
}

// IsAccount reports whether code is a bookable account.
func (ix *Index) IsAccount(code string) bool {
	entry, ok := ix.entries[code]
	return ok && entry.Level == model.LevelAccount
}

// Families returns every family header ordered by code.
func (ix *Index) Families() []model.CatalogEntry {
	return append([]model.CatalogEntry(nil), ix.families...)
}

// Subfamilies returns the subfamily headers of a family ordered by code.
func (ix *Index) Subfamilies(family string) []model.CatalogEntry {
	return append([]model.CatalogEntry(nil), ix.subfamilies[family]...)
}

// Accounts returns the accounts under a family or subfamily prefix.
func (ix *Index) Accounts(prefix string) []model.CatalogEntry {
	var out []model.CatalogEntry
	for _, entry := range ix.accounts {
		if matchesPrefix(entry, prefix) {
			out = append(out, entry)
		}
	}
	return out
}

// Adjacent returns up to n sibling subfamilies of subfamily within the same
// family, nearest code first. Ties prefer the lower code.
func (ix *Index) Adjacent(subfamily string, n int) []string {
	if n <= 0 {
		return nil
	}
	self, err := strconv.Atoi(subfamily)
	if err != nil {
		return nil
	}

	type sibling struct {
		code     string
		distance int
	}
	var siblings []sibling
	for _, entry := range ix.subfamilies[model.FamilyOf(subfamily)] {
		if entry.Code == subfamily {
			continue
		}
		num, err := strconv.Atoi(entry.Code)
		if err != nil {
			continue
		}
		d := num - self
		if d < 0 {
			d = -d
		}
		siblings = append(siblings, sibling{code: entry.Code, distance: d})
	}

	sort.Slice(siblings, func(i, j int) bool {
		if siblings[i].distance != siblings[j].distance {
			return siblings[i].distance < siblings[j].distance
		}
		return siblings[i].code < siblings[j].code
	})

	out := make([]string, 0, n)
	for i := 0; i < len(siblings) && i < n; i++ {
		out = append(out, siblings[i].code)
	}
	return out
}

// Query is a nearest-neighbour request.
type Query struct {
	Vector  []float32
	Version string
	// Prefixes restricts results to accounts whose family or subfamily is
	// listed. Empty means the whole catalog.
	Prefixes []string
	K        int
}

// Nearest returns the K accounts most similar to the query vector. Only
// accounts embedded with the query's version are compared. Ties break by
// code ascending. An empty result is not an error.
func (ix *Index) Nearest(q Query) []model.ClassificationCandidate {
	if q.K <= 0 || len(q.Vector) == 0 {
		return nil
	}

	candidates := make([]model.ClassificationCandidate, 0, len(ix.accounts))
	for _, entry := range ix.accounts {
		if len(entry.Embedding) == 0 || entry.EmbeddingVersion != q.Version {
			continue
		}
		if len(q.Prefixes) > 0 && !matchesAny(entry, q.Prefixes) {
			continue
		}
		candidates = append(candidates, model.ClassificationCandidate{
			Code:       entry.Code,
			Name:       entry.Name,
			FamilyCode: entry.FamilyCode,
			Similarity: embedding.Cosine(q.Vector, entry.Embedding),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Code < candidates[j].Code
	})

	if len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	return candidates
}

func matchesAny(entry model.CatalogEntry, prefixes []string) bool {
	for _, p := range prefixes {
		if matchesPrefix(entry, p) {
			return true
		}
	}
	return false
}

func matchesPrefix(entry model.CatalogEntry, prefix string) bool {
	return prefix == "" || entry.FamilyCode == prefix || entry.SubfamilyCode == prefix
}
