package similarity

import "math"

// Result is the uniform outcome of every comparison entry point. On success
// SimilarityScore, SimilarityPercentage and Method are set; on failure only Error is.
type Result struct {
	Success              bool     `json:"success"`
	SimilarityScore      *float64 `json:"similarity_score"`
	SimilarityPercentage *float64 `json:"similarity_percentage"`
	Method               *Method  `json:"method"`
	Error                *string  `json:"error"`
}

func succeeded(method Method, score, percentage float64) Result {
	score = round(score, 4)
	percentage = round(percentage, 2)
	return Result{
		Success:              true,
		SimilarityScore:      &score,
		SimilarityPercentage: &percentage,
		Method:               &method,
	}
}

func failed(msg string) Result {
	return Result{Error: &msg}
}

// MethodUsed returns the method that produced the result, or "" on failure.
func (r Result) MethodUsed() Method {
	if r.Method == nil {
		return ""
	}
	return *r.Method
}

// toPercentage maps a [-1,1] score onto [0,100].
func toPercentage(score float64) float64 {
	return clamp((score+1)/2*100, 0, 100)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
