package models

import "maps"

// Product is a catalog item surfaced by search and carried by recommend options.
type Product struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Brand       string   `json:"brand,omitempty"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Score       float64  `json:"score"`
}

// CandidateOption is one proposed system turn inside a responder's candidate.
type CandidateOption struct {
	CandidateID string         `json:"candidate_id"`
	Response    string         `json:"response"`
	Score       float64        `json:"score,omitempty"`
	Rationale   string         `json:"rationale,omitempty"`
	Slots       map[string]any `json:"slots,omitempty"`
	Products    []Product      `json:"products,omitempty"`
}

// Candidate is the structured output of one responder for one turn.
type Candidate struct {
	AgentName  AgentName         `json:"agent_name"`
	Act        Act               `json:"act"`
	Confidence float64           `json:"confidence"`
	Options    []CandidateOption `json:"candidates"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// ProductIDs returns the ids of the option's products in order.
func (o CandidateOption) ProductIDs() []string {
	ids := make([]string, 0, len(o.Products))
	for _, p := range o.Products {
		ids = append(ids, p.ID)
	}
	return ids
}

// Clone returns a deep copy of the option.
func (o CandidateOption) Clone() CandidateOption {
	out := o
	out.Slots = maps.Clone(o.Slots)
	if o.Products != nil {
		out.Products = make([]Product, len(o.Products))
		for i, p := range o.Products {
			out.Products[i] = p.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the product.
func (p Product) Clone() Product {
	out := p
	if p.Categories != nil {
		out.Categories = append([]string(nil), p.Categories...)
	}
	if p.Price != nil {
		v := *p.Price
		out.Price = &v
	}
	return out
}

// RetrievalResult is one ranked entry produced by the hybrid retrieval merger.
type RetrievalResult struct {
	ProductID     string  `json:"product_id"`
	Title         string  `json:"title"`
	DenseScore    float64 `json:"dense_score"`
	SparseScore   float64 `json:"sparse_score"`
	CombinedScore float64 `json:"combined_score"`
	Product       Product `json:"product"`
}

// PlannerDecision is the planner's single selection for a turn.
type PlannerDecision struct {
	CandidateID string          `json:"candidate_id"`
	Response    string          `json:"response"`
	Act         Act             `json:"act"`
	AgentName   AgentName       `json:"agent_name"`
	Confidence  float64         `json:"confidence"`
	Option      CandidateOption `json:"option"`
	Source      SelectionSource `json:"source"`
	Notes       string          `json:"notes,omitempty"`
}

// SelectionSource records how the planner arrived at its decision.
type SelectionSource string

const (
	// SelectionCollaborator means the selection collaborator's id was accepted.
	SelectionCollaborator SelectionSource = "collaborator"
	// SelectionFallback means the deterministic confidence fallback was applied.
	SelectionFallback SelectionSource = "fallback"
	// SelectionSufficiency means a recommend option replaced the collaborator's choice.
	SelectionSufficiency SelectionSource = "sufficiency"
	// SelectionDefault means the pool was empty and the built-in chit-chat was used.
	SelectionDefault SelectionSource = "default"
)
