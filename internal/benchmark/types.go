package benchmark

// Report summarises one evaluation run. Rates are fractions in [0, 1].
type Report struct {
	Provider       string            `json:"provider"`
	K              int               `json:"k"`
	TotalProblems  int               `json:"total_problems"`
	PassedProblems int               `json:"passed_problems"`
	Pass1Rate      float64           `json:"pass_1_rate"`
	PassKRate      float64           `json:"pass_k_rate"`
	Results        []ChallengeResult `json:"results"`
}

// ChallengeResult is the outcome for one challenge. Attempts counts every
// completion requested, including ones the provider failed to answer.
type ChallengeResult struct {
	ChallengeID string `json:"challenge_id"`
	Passed      bool   `json:"passed"`
	Attempts    int    `json:"attempts"`
	PassedFirst bool   `json:"passed_first"`
	LastMessage string `json:"last_message"`
}
