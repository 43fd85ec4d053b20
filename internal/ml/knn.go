package ml

import "math"

const (
	knnCapacity  = 150
	knnNeighbors = 7
)

type knnSample struct {
	X     FeatureVector `json:"x"`
	Label float64       `json:"label"`
}

// KNN votes on P(up) from the k nearest of the last 150 labeled
// vectors, weighted by inverse distance.
type KNN struct {
	Samples []knnSample `json:"samples"`
	Next    int         `json:"next"`
}

// NewKNN creates an empty neighbor store.
func NewKNN() *KNN {
	return &KNN{}
}

// Predict returns the inverse-distance weighted label mean of the k
// nearest samples, or 0.5 when the store is empty.
func (k *KNN) Predict(x FeatureVector) float64 {
	if len(k.Samples) == 0 {
		return 0.5
	}

	type scored struct {
		dist  float64
		label float64
	}
	neighbors := make([]scored, 0, len(k.Samples))
	for _, s := range k.Samples {
		neighbors = append(neighbors, scored{dist: euclidean(x, s.X), label: s.Label})
	}

	// Partial selection of the k smallest distances.
	kk := knnNeighbors
	if kk > len(neighbors) {
		kk = len(neighbors)
	}
	for i := 0; i < kk; i++ {
		min := i
		for j := i + 1; j < len(neighbors); j++ {
			if neighbors[j].dist < neighbors[min].dist {
				min = j
			}
		}
		neighbors[i], neighbors[min] = neighbors[min], neighbors[i]
	}

	num, den := 0.0, 0.0
	for i := 0; i < kk; i++ {
		w := 1 / (neighbors[i].dist + 1e-6)
		num += w * neighbors[i].label
		den += w
	}
	if den == 0 {
		return 0.5
	}
	return num / den
}

// Update appends a labeled vector, evicting the oldest once the ring
// is full.
func (k *KNN) Update(x FeatureVector, label float64) {
	s := knnSample{X: x, Label: label}
	if len(k.Samples) < knnCapacity {
		k.Samples = append(k.Samples, s)
		return
	}
	k.Samples[k.Next] = s
	k.Next = (k.Next + 1) % knnCapacity
}

func euclidean(a, b FeatureVector) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
