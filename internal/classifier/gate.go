package classifier

import (
	"fmt"
	"math"
)

// Outcome is the gated result of one forward pass. Inconclusive outcomes
// carry the (rejected) confidence but no label.
type Outcome struct {
	Definite   bool
	Label      string
	Confidence float64 // top softmax probability as a percentage
}

// Decide converts raw per-label scores into a diagnosis decision: softmax
// across the label dimension, take the top probability, and reject the
// prediction when confidence falls strictly below the threshold. A score
// landing exactly on the threshold is definite; the strict less-than is
// user-tunable policy, not an accident.
func Decide(scores []float32, labels []string, threshold float64) (Outcome, error) {
	if len(scores) == 0 {
		return Outcome{}, fmt.Errorf("empty score vector")
	}
	if len(scores) != len(labels) {
		return Outcome{}, fmt.Errorf("got %d scores for %d labels", len(scores), len(labels))
	}

	probs := softmax(scores)
	top := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[top] {
			top = i
		}
	}

	confidence := probs[top] * 100
	if confidence < threshold {
		return Outcome{Definite: false, Confidence: confidence}, nil
	}
	return Outcome{Definite: true, Label: labels[top], Confidence: confidence}, nil
}

func softmax(scores []float32) []float64 {
	max := float64(scores[0])
	for _, s := range scores[1:] {
		if float64(s) > max {
			max = float64(s)
		}
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
