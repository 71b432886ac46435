package entity

import "math"

// ClassProbabilities распределение вероятностей по классам этапа.
type ClassProbabilities []float64

// Prediction индекс наиболее вероятного класса и его вероятность.
type Prediction struct {
	ClassIndex int
	Confidence float64
}

// Softmax превращает сырые оценки модели в распределение вероятностей.
func Softmax(scores []float32) ClassProbabilities {
	if len(scores) == 0 {
		return nil
	}

	maxScore := float64(scores[0])
	for _, s := range scores[1:] {
		if float64(s) > maxScore {
			maxScore = float64(s)
		}
	}

	probs := make(ClassProbabilities, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	return probs
}

// Best возвращает argmax распределения. При равенстве выигрывает меньший индекс.
func (p ClassProbabilities) Best() Prediction {
	if len(p) == 0 {
		return Prediction{ClassIndex: -1}
	}

	best := Prediction{ClassIndex: 0, Confidence: p[0]}
	for i, v := range p[1:] {
		if v > best.Confidence {
			best = Prediction{ClassIndex: i + 1, Confidence: v}
		}
	}
	return best
}

// Sum возвращает сумму вероятностей.
func (p ClassProbabilities) Sum() float64 {
	var s float64
	for _, v := range p {
		s += v
	}
	return s
}

// RoundConfidence округляет уверенность до заданного числа знаков.
func RoundConfidence(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
