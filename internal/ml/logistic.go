package ml

import "math"

// OnlineLogistic is a logistic-regression learner trained one sample
// at a time with SGD and L2 regularization.
type OnlineLogistic struct {
	Weights [FeatureCount]float64 `json:"weights"`
	Bias    float64               `json:"bias"`
	Samples int                   `json:"samples"`

	BaseLR float64 `json:"base_lr"`
	L2     float64 `json:"l2"`
}

// NewOnlineLogistic creates a zero-initialized learner.
func NewOnlineLogistic() *OnlineLogistic {
	return &OnlineLogistic{BaseLR: 0.05, L2: 1e-3}
}

// Predict returns P(up) for the vector.
func (l *OnlineLogistic) Predict(x FeatureVector) float64 {
	z := l.Bias
	for i := range x {
		z += l.Weights[i] * x[i]
	}
	return sigmoid(z)
}

// Update performs one SGD step toward label (1=win for the predicted
// up case, 0 otherwise). The learning rate decays as α/(1+n·1e-4).
func (l *OnlineLogistic) Update(x FeatureVector, label float64) {
	p := l.Predict(x)
	lr := l.BaseLR / (1 + float64(l.Samples)*1e-4)
	grad := label - p

	for i := range x {
		l.Weights[i] += lr * (grad*x[i] - l.L2*l.Weights[i])
	}
	l.Bias += lr * grad
	l.Samples++
}

// WeightNorm returns the L2 norm of the weight vector, used to watch
// for divergence.
func (l *OnlineLogistic) WeightNorm() float64 {
	sum := 0.0
	for _, w := range l.Weights {
		sum += w * w
	}
	return math.Sqrt(sum)
}

func sigmoid(z float64) float64 {
	if z > 500 {
		z = 500
	} else if z < -500 {
		z = -500
	}
	return 1 / (1 + math.Exp(-z))
}
