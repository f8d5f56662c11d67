package usecase

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scentmatch/backend/internal/domain"
)

// MockCacheRepository is a mock implementation of domain.CacheRepository
type MockCacheRepository struct {
	mu        sync.Mutex
	data      map[string]interface{}
	getError  error
	setError  error
	getCalled bool
	setCalled bool
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		data: make(map[string]interface{}),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalled = true
	if m.getError != nil {
		return nil, m.getError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalled = true
	if m.setError != nil {
		return m.setError
	}
	m.data[key] = value
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

// MockCorpusStore is an in-memory domain.CorpusStore
type MockCorpusStore struct {
	fragrances []domain.CanonicalFragrance
	variants   []domain.FragranceVariant

	exactError   error
	variantError error
	namesError   error
	nearestError error

	// blockNames makes ListNames wait for the context to end
	blockNames bool

	mu    sync.Mutex
	calls map[string]int
}

func NewMockCorpusStore(fragrances []domain.CanonicalFragrance, variants []domain.FragranceVariant) *MockCorpusStore {
	return &MockCorpusStore{
		fragrances: fragrances,
		variants:   variants,
		calls:      make(map[string]int),
	}
}

func (m *MockCorpusStore) record(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

func (m *MockCorpusStore) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockCorpusStore) byID(id string) (domain.CanonicalFragrance, bool) {
	for _, f := range m.fragrances {
		if f.ID == id {
			return f, true
		}
	}
	return domain.CanonicalFragrance{}, false
}

func (m *MockCorpusStore) FindByNormalizedName(ctx context.Context, name string) ([]domain.CanonicalFragrance, error) {
	m.record("FindByNormalizedName")
	if m.exactError != nil {
		return nil, m.exactError
	}
	var out []domain.CanonicalFragrance
	for _, f := range m.fragrances {
		if f.NormalizedName == name || (f.NameKey != "" && f.NameKey == name) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MockCorpusStore) FindByVariantName(ctx context.Context, name string) ([]domain.VariantMatch, error) {
	m.record("FindByVariantName")
	if m.variantError != nil {
		return nil, m.variantError
	}
	var out []domain.VariantMatch
	for _, v := range m.variants {
		if v.NormalizedName != name || v.IsMalformed {
			continue
		}
		if owner, ok := m.byID(v.CanonicalID); ok {
			out = append(out, domain.VariantMatch{Variant: v, Canonical: owner})
		}
	}
	return out, nil
}

func (m *MockCorpusStore) ListNames(ctx context.Context) ([]domain.NameEntry, error) {
	m.record("ListNames")
	if m.blockNames {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.namesError != nil {
		return nil, m.namesError
	}
	out := make([]domain.NameEntry, 0, len(m.fragrances)+len(m.variants))
	for _, f := range m.fragrances {
		out = append(out, domain.NameEntry{CanonicalID: f.ID, NormalizedName: f.NormalizedName, Confidence: 1.0})
	}
	for _, v := range m.variants {
		if v.IsMalformed {
			continue
		}
		out = append(out, domain.NameEntry{CanonicalID: v.CanonicalID, NormalizedName: v.NormalizedName, Confidence: v.Confidence, IsVariant: true})
	}
	return out, nil
}

func (m *MockCorpusStore) GetByIDs(ctx context.Context, ids []string) ([]domain.CanonicalFragrance, error) {
	m.record("GetByIDs")
	var out []domain.CanonicalFragrance
	for _, id := range ids {
		if f, ok := m.byID(id); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MockCorpusStore) NearestByEmbedding(ctx context.Context, vector []float32, k int) ([]domain.ScoredFragrance, error) {
	m.record("NearestByEmbedding")
	if m.nearestError != nil {
		return nil, m.nearestError
	}
	var out []domain.ScoredFragrance
	for _, f := range m.fragrances {
		if len(f.Embedding) != len(vector) {
			continue
		}
		out = append(out, domain.ScoredFragrance{Fragrance: f, Similarity: mockCosine(vector, f.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MockCorpusStore) ListCandidates(ctx context.Context, brandKey string, limit int) ([]domain.CanonicalFragrance, error) {
	m.record("ListCandidates")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.CanonicalFragrance
	for _, f := range m.fragrances {
		if brandKey != "" && !strings.HasPrefix(f.NormalizedName, brandKey+" ") {
			continue
		}
		out = append(out, f)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockCorpusStore) ListBrands(ctx context.Context) ([]string, error) {
	m.record("ListBrands")
	seen := make(map[string]bool)
	var out []string
	for _, f := range m.fragrances {
		if !seen[f.BrandName] {
			seen[f.BrandName] = true
			out = append(out, f.BrandName)
		}
	}
	return out, nil
}

func mockCosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MockEmbedder is a mock implementation of domain.Embedder
type MockEmbedder struct {
	vector []float32
	err    error
	// block makes Embed wait for the context to end
	block bool

	mu    sync.Mutex
	calls int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.vector, nil
}

// MockMissingStore is an in-memory domain.MissingProductStore with atomic upserts
type MockMissingStore struct {
	mu            sync.Mutex
	records       map[string]*domain.MissingProductRecord
	requesters    map[string]map[string]bool
	notifications []domain.NotificationRequest
	upsertError   error
	upsertCalls   int
}

func NewMockMissingStore() *MockMissingStore {
	return &MockMissingStore{
		records:    make(map[string]*domain.MissingProductRecord),
		requesters: make(map[string]map[string]bool),
	}
}

func (m *MockMissingStore) UpsertMissing(ctx context.Context, event domain.MissingProductEvent, priority domain.PriorityFunc) (*domain.MissingProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertError != nil {
		return nil, m.upsertError
	}

	rec, ok := m.records[event.NormalizedQuery]
	if !ok {
		rec = &domain.MissingProductRecord{
			NormalizedQuery: event.NormalizedQuery,
			DisplayQuery:    event.DisplayQuery,
			BrandHint:       event.BrandHint,
			Status:          domain.MissingStatusPending,
			FirstSeen:       event.SeenAt,
		}
		m.records[event.NormalizedQuery] = rec
		m.requesters[event.NormalizedQuery] = make(map[string]bool)
	}
	rec.RequestCount++
	rec.LastSeen = event.SeenAt
	if event.RequesterID != "" {
		m.requesters[event.NormalizedQuery][event.RequesterID] = true
	}
	rec.UniqueRequesterCount = int64(len(m.requesters[event.NormalizedQuery]))
	if priority != nil {
		rec.PriorityScore = priority(rec.RequestCount, rec.UniqueRequesterCount, rec.BrandHint)
	}

	out := *rec
	return &out, nil
}

func (m *MockMissingStore) TopMissing(ctx context.Context, limit int, status domain.MissingProductStatus) ([]domain.MissingProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MissingProductRecord
	for _, rec := range m.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].NormalizedQuery < out[j].NormalizedQuery
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockMissingStore) SetMissingStatus(ctx context.Context, normalizedQuery string, status domain.MissingProductStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[normalizedQuery]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (m *MockMissingStore) SaveNotification(ctx context.Context, req domain.NotificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, req)
	return nil
}

func (m *MockMissingStore) record(query string) (domain.MissingProductRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[query]
	if !ok {
		return domain.MissingProductRecord{}, false
	}
	return *rec, true
}

func (m *MockMissingStore) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// testCatalog is a small catalog shared by the usecase tests
func testCatalog() ([]domain.CanonicalFragrance, []domain.FragranceVariant) {
	fragrances := []domain.CanonicalFragrance{
		{
			ID: "frag-bleu-de-chanel", CanonicalName: "Bleu de Chanel", NormalizedName: "bleu de chanel",
			BrandName: "Chanel", Family: "woody", Gender: domain.GenderMasculine, Concentration: "EDP",
			Notes: []string{"grapefruit", "incense", "cedar"},
		},
		{
			ID: "frag-chanel-no5", CanonicalName: "Chanel No 5", NormalizedName: "chanel no 5",
			BrandName: "Chanel", Family: "floral", Gender: domain.GenderFeminine, Concentration: "EDP",
			Notes: []string{"aldehydes", "rose", "jasmine", "vanilla"},
		},
		{
			ID: "frag-coach-dreams", CanonicalName: "Coach Dreams", NormalizedName: "coach dreams",
			BrandName: "Coach", Family: "floral", Gender: domain.GenderFeminine, Concentration: "EDP",
			Notes: []string{"orange blossom", "gardenia", "vanilla"},
		},
		{
			ID: "frag-coach-platinum", CanonicalName: "Coach Platinum", NormalizedName: "coach platinum",
			BrandName: "Coach", Family: "woody", Gender: domain.GenderMasculine, Concentration: "EDP",
			Notes: []string{"juniper", "cardamom", "vetiver"},
		},
		{
			ID: "frag-dior-sauvage", CanonicalName: "Sauvage", NormalizedName: "dior sauvage",
			BrandName: "Dior", Family: "aromatic", Gender: domain.GenderMasculine, Concentration: "EDT",
			Notes: []string{"bergamot", "pepper", "ambroxan"},
		},
		{
			ID: "frag-tf-tobacco-vanille", CanonicalName: "Tobacco Vanille", NormalizedName: "tom ford tobacco vanille",
			BrandName: "Tom Ford", Family: "oriental", Gender: domain.GenderUnisex, Concentration: "EDP",
			Notes: []string{"tobacco", "vanilla", "tonka bean"},
		},
	}
	variants := []domain.FragranceVariant{
		{ID: "var-no5", CanonicalID: "frag-chanel-no5", VariantName: "No 5", NormalizedName: "no 5", Source: domain.VariantSourceImport, Confidence: 0.9},
		{ID: "var-sauvage", CanonicalID: "frag-dior-sauvage", VariantName: "Sauvage", NormalizedName: "sauvage", Source: domain.VariantSourceImport, Confidence: 0.95},
		{ID: "var-tobacco", CanonicalID: "frag-tf-tobacco-vanille", VariantName: "Tobacco Vanille", NormalizedName: "tobacco vanille", Source: domain.VariantSourceImport, Confidence: 0.9},
		{ID: "var-broken", CanonicalID: "frag-coach-dreams", VariantName: "c0ach dr3ams", NormalizedName: "c0ach dr3ams", Source: domain.VariantSourceManual, Confidence: 0.5, IsMalformed: true},
	}
	return fragrances, variants
}
