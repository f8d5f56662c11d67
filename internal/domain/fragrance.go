package domain

import "time"

// VariantSource records where a fragrance variant came from
type VariantSource string

const (
	VariantSourceManual VariantSource = "manual"
	VariantSourceImport VariantSource = "import"
)

// CanonicalFragrance is the authoritative catalog record for a product
type CanonicalFragrance struct {
	ID             string    `json:"id"`
	CanonicalName  string    `json:"canonicalName"`
	NormalizedName string    `json:"normalizedName"`
	// NameKey is the normalized canonical name without the brand
	NameKey        string    `json:"nameKey,omitempty"`
	BrandID        string    `json:"brandId"`
	BrandName      string    `json:"brandName"`
	FragranceLine  string    `json:"fragranceLine,omitempty"`
	Notes          []string  `json:"notes,omitempty"`
	Family         string    `json:"family,omitempty"`
	Concentration  string    `json:"concentration,omitempty"`
	Gender         Gender    `json:"gender,omitempty"`
	Embedding      []float32 `json:"-"`
}

// FragranceVariant is an alternate spelling or format of a canonical fragrance name.
// Variants only aid matching and are never shown as a primary identity.
type FragranceVariant struct {
	ID             string        `json:"id"`
	CanonicalID    string        `json:"canonicalId"`
	VariantName    string        `json:"variantName"`
	NormalizedName string        `json:"normalizedName"`
	Source         VariantSource `json:"source"`
	Confidence     float64       `json:"confidence"` // 0-1
	IsMalformed    bool          `json:"isMalformed"`
}

// Gender is the marketed target of a fragrance
type Gender string

const (
	GenderUnknown   Gender = ""
	GenderMasculine Gender = "masculine"
	GenderFeminine  Gender = "feminine"
	GenderUnisex    Gender = "unisex"
)

// MissingProductStatus tracks catalog-growth decisions for a missing product
type MissingProductStatus string

const (
	MissingStatusPending  MissingProductStatus = "pending"
	MissingStatusSourced  MissingProductStatus = "sourced"
	MissingStatusRejected MissingProductStatus = "rejected"
)

// Valid reports whether s is a known status
func (s MissingProductStatus) Valid() bool {
	switch s {
	case MissingStatusPending, MissingStatusSourced, MissingStatusRejected:
		return true
	}
	return false
}

// MissingProductRecord aggregates demand for a query no catalog item could satisfy
type MissingProductRecord struct {
	NormalizedQuery      string               `json:"normalizedQuery"`
	DisplayQuery         string               `json:"displayQuery"`
	BrandHint            string               `json:"brandHint,omitempty"`
	RequestCount         int64                `json:"requestCount"`
	UniqueRequesterCount int64                `json:"uniqueRequesterCount"`
	PriorityScore        float64              `json:"priorityScore"`
	Status               MissingProductStatus `json:"status"`
	FirstSeen            time.Time            `json:"firstSeen"`
	LastSeen             time.Time            `json:"lastSeen"`
}

// MissingProductEvent is a single unmatched query observation
type MissingProductEvent struct {
	NormalizedQuery string
	DisplayQuery    string
	BrandHint       string
	RequesterID     string
	Context         string
	SeenAt          time.Time
}

// NotificationRequest is a user's request to be told when a missing product is sourced
type NotificationRequest struct {
	NormalizedQuery string    `json:"normalizedQuery"`
	Email           string    `json:"email"`
	CreatedAt       time.Time `json:"createdAt"`
}
