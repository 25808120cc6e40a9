package domain

// Tier is the subscription class that bounds usage.
type Tier int

const (
	TierBasic     Tier = 1
	TierStandard  Tier = 2
	TierUnlimited Tier = 3
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierBasic && t <= TierUnlimited
}

// MaxMemoryLength bounds the memory blob, counted in characters.
const MaxMemoryLength = 500

// Account is the per-principal quota and memory state.
type Account struct {
	ID         string
	Tier       Tier
	UsageCount int
	Memory     string
}

// NewAccount returns the state given to a principal seen for the first time.
func NewAccount(id string) Account {
	return Account{ID: id, Tier: TierBasic}
}
