package event

import "math/rand"

// Type describes one scripted market event template. The realized target
// change is drawn uniformly from [MinChange, MaxChange] when triggered.
type Type struct {
	Name        string
	Description string
	MinChange   int // percent
	MaxChange   int // percent
	Positive    bool
	Probability float64 // relative selection weight
}

// Catalog is the fixed set of scripted events the market can produce.
// Positive events are rare windfalls; negative ones are smaller but split
// into more steps so crashes feel gradual.
var Catalog = []Type{
	{
		Name:        "Major Partnership",
		Description: "Strategic partnerships signed with several large enterprises.",
		MinChange:   50, MaxChange: 75, Positive: true, Probability: 0.30,
	},
	{
		Name:        "Protocol Upgrade",
		Description: "A breakthrough feature upgrade ships successfully.",
		MinChange:   50, MaxChange: 75, Positive: true, Probability: 0.35,
	},
	{
		Name:        "Exchange Listing",
		Description: "Listing confirmed on a major overseas exchange.",
		MinChange:   50, MaxChange: 80, Positive: true, Probability: 0.20,
	},
	{
		Name:        "DeFi Launch",
		Description: "A new decentralized finance service goes live.",
		MinChange:   60, MaxChange: 90, Positive: true, Probability: 0.15,
	},
	{
		Name:        "Game Collaboration",
		Description: "Collaboration with a major game studio announced.",
		MinChange:   50, MaxChange: 80, Positive: true, Probability: 0.25,
	},
	{
		Name:        "NFT Update",
		Description: "Large-scale update to the NFT platform released.",
		MinChange:   65, MaxChange: 90, Positive: true, Probability: 0.30,
	},
	{
		Name:        "Technical Issues",
		Description: "Temporary technical problems are delaying transactions.",
		MinChange:   -10, MaxChange: -5, Positive: false, Probability: 0.30,
	},
	{
		Name:        "Market Turmoil",
		Description: "Sharp swings across the wider market are spilling over.",
		MinChange:   -10, MaxChange: -5, Positive: false, Probability: 0.25,
	},
	{
		Name:        "Security Alert",
		Description: "Unauthorized access attempts detected; withdrawals paused.",
		MinChange:   -10, MaxChange: -5, Positive: false, Probability: 0.25,
	},
	{
		Name:        "Regulatory Pressure",
		Description: "Stricter trading regulations announced in key regions.",
		MinChange:   -15, MaxChange: -10, Positive: false, Probability: 0.20,
	},
	{
		Name:        "Network Outage",
		Description: "A data center failure is disrupting connectivity.",
		MinChange:   -15, MaxChange: -10, Positive: false, Probability: 0.25,
	},
	{
		Name:        "Rival Launch",
		Description: "A well-funded competitor enters the market.",
		MinChange:   -20, MaxChange: -10, Positive: false, Probability: 0.25,
	},
}

// RandomType draws one event template weighted by Probability.
func RandomType(rng *rand.Rand) Type {
	total := 0.0
	for _, t := range Catalog {
		total += t.Probability
	}
	pick := rng.Float64() * total
	for _, t := range Catalog {
		pick -= t.Probability
		if pick <= 0 {
			return t
		}
	}
	return Catalog[len(Catalog)-1]
}
