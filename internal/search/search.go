package search

// Result is a single policy hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	PolicyNumber string `json:"policyNumber"`
	CustomerName string `json:"customerName"`
	Insurer      string `json:"insurer"`
	Status       string `json:"status"`
	Type         string `json:"type"`
}

// Query describes a policy search request.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PolicyRecord is the data pushed into the search index.
type PolicyRecord struct {
	ID           string `json:"id"`
	OwnerID      string `json:"ownerId"`
	PolicyNumber string `json:"policyNumber"`
	CustomerName string `json:"customerName"`
	Insurer      string `json:"insurer"`
	Status       string `json:"status"`
	Type         string `json:"type"`
}
