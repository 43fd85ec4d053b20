package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"otc-signal-bot/internal/logging"
)

// Signal directions emitted by the ensemble verdict.
const (
	DirectionCall    = "CALL"
	DirectionPut     = "PUT"
	DirectionNoTrade = "NO_TRADE"
)

// Confidence tiers.
const (
	TierPremium  = "PREMIUM"
	TierStandard = "STANDARD"
	TierLow      = "LOW"
)

const (
	rollingWindow    = 50
	calibrationDecay = 0.995
	calibrationMin   = 5
)

// Verdict is the ensemble's combined opinion for one feature vector.
type Verdict struct {
	Probability float64 `json:"probability"` // calibrated P(up)
	Direction   string  `json:"direction"`
	Confidence  float64 `json:"confidence"` // [50, 92]
	Tier        string  `json:"tier"`
}

type calBucket struct {
	Correct float64 `json:"correct"`
	Total   float64 `json:"total"`
}

// Ensemble fuses four online learners into one calibrated P(up):
// logistic regression, boosted stumps, kNN, and a discrete pattern
// memory. It is a process-wide singleton; all mutation is serialized.
type Ensemble struct {
	mu sync.RWMutex

	logistic *OnlineLogistic
	stumps   *BoostedStumps
	knn      *KNN
	memory   *PatternMemory

	calibration [10]calBucket
	recent      []bool // rolling correctness of the last predictions
	updates     int

	logger *logging.Logger
}

// NewEnsemble creates a fresh ensemble. The seed pins the stump
// refits, keeping training reproducible from a snapshot.
func NewEnsemble(seed int64, logger *logging.Logger) *Ensemble {
	if logger == nil {
		logger = logging.Default()
	}
	return &Ensemble{
		logistic: NewOnlineLogistic(),
		stumps:   NewBoostedStumps(seed),
		knn:      NewKNN(),
		memory:   NewPatternMemory(),
		logger:   logger.WithComponent("ml-ensemble"),
	}
}

// Predict combines the four learners and calibrates the result.
func (e *Ensemble) Predict(rec FeatureRecord) Verdict {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.predictLocked(rec)
}

func (e *Ensemble) predictLocked(rec FeatureRecord) Verdict {
	raw := e.rawProbability(rec)
	p := e.calibrate(raw)

	ds := 2 * math.Abs(p-0.5)
	direction := DirectionNoTrade
	if ds > 0.15 {
		if p > 0.5 {
			direction = DirectionCall
		} else {
			direction = DirectionPut
		}
	}

	confidence := math.Round(50 + ds*42)
	if confidence < 50 {
		confidence = 50
	} else if confidence > 92 {
		confidence = 92
	}

	tier := TierLow
	switch {
	case confidence >= 82:
		tier = TierPremium
	case confidence >= 72:
		tier = TierStandard
	}

	return Verdict{Probability: p, Direction: direction, Confidence: confidence, Tier: tier}
}

// rawProbability applies the base learner weights, shifting toward the
// pattern memory when it has a strong opinion.
func (e *Ensemble) rawProbability(rec FeatureRecord) float64 {
	pLog := e.logistic.Predict(rec.Vector)
	pStump := e.stumps.Predict(rec.Vector)
	pKNN := e.knn.Predict(rec.Vector)
	pMem := e.memory.Predict(Signature(rec))

	wLog, wStump, wKNN, wMem := 0.30, 0.30, 0.20, 0.20
	if math.Abs(pMem-0.5) > 0.2 {
		wLog, wStump, wKNN, wMem = 0.25, 0.25, 0.15, 0.35
	}
	return wLog*pLog + wStump*pStump + wKNN*pKNN + wMem*pMem
}

func (e *Ensemble) calibrate(raw float64) float64 {
	b := bucketOf(raw)
	bucket := e.calibration[b]
	if bucket.Total < calibrationMin {
		return raw
	}
	empirical := bucket.Correct / bucket.Total
	return 0.6*raw + 0.4*empirical
}

func bucketOf(p float64) int {
	b := int(p * 10)
	if b < 0 {
		b = 0
	} else if b > 9 {
		b = 9
	}
	return b
}

// Update trains every learner on the resolved outcome. wentUp is the
// realized direction at expiry relative to entry.
func (e *Ensemble) Update(rec FeatureRecord, wentUp bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw := e.rawProbability(rec)
	predictedUp := raw >= 0.5
	correct := predictedUp == wentUp

	e.recent = append(e.recent, correct)
	if len(e.recent) > rollingWindow {
		e.recent = e.recent[len(e.recent)-rollingWindow:]
	}

	b := bucketOf(raw)
	bucket := &e.calibration[b]
	bucket.Correct *= calibrationDecay
	bucket.Total *= calibrationDecay
	bucket.Total++
	if wentUp {
		bucket.Correct++
	}

	label := 0.0
	if wentUp {
		label = 1
	}
	e.logistic.Update(rec.Vector, label)
	e.stumps.Update(rec.Vector, label)
	e.knn.Update(rec.Vector, label)
	e.memory.Update(Signature(rec), wentUp)
	e.updates++

	e.logger.Debug("Ensemble updated",
		"updates", e.updates,
		"went_up", wentUp,
		"raw_p", fmt.Sprintf("%.3f", raw),
		"rolling_accuracy", fmt.Sprintf("%.3f", e.rollingAccuracyLocked()))
}

// GetRollingAccuracy returns the fraction of correct calls over the
// last 50 updates, or 0 before any update.
func (e *Ensemble) GetRollingAccuracy() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rollingAccuracyLocked()
}

func (e *Ensemble) rollingAccuracyLocked() float64 {
	if len(e.recent) == 0 {
		return 0
	}
	hits := 0
	for _, c := range e.recent {
		if c {
			hits++
		}
	}
	return float64(hits) / float64(len(e.recent))
}

// WeightNorm exposes the logistic weight norm for divergence checks.
func (e *Ensemble) WeightNorm() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logistic.WeightNorm()
}

// GetStatus reports a diagnostic summary.
func (e *Ensemble) GetStatus() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]interface{}{
		"updates":          e.updates,
		"rolling_accuracy": e.rollingAccuracyLocked(),
		"stumps":           len(e.stumps.Stumps),
		"knn_samples":      len(e.knn.Samples),
		"pattern_memory":   e.memory.Size(),
		"weight_norm":      e.logistic.WeightNorm(),
	}
}

// ensembleState is the serialized form of all learner state.
type ensembleState struct {
	Logistic    *OnlineLogistic           `json:"logistic"`
	Stumps      *BoostedStumps            `json:"stumps"`
	KNN         *KNN                      `json:"knn"`
	Memory      map[string]SignatureStats `json:"memory"`
	Calibration [10]calBucket             `json:"calibration"`
	Recent      []bool                    `json:"recent"`
	Updates     int                       `json:"updates"`
}

// Snapshot serializes the full ensemble state.
func (e *Ensemble) Snapshot() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return json.Marshal(ensembleState{
		Logistic:    e.logistic,
		Stumps:      e.stumps,
		KNN:         e.knn,
		Memory:      e.memory.Table,
		Calibration: e.calibration,
		Recent:      e.recent,
		Updates:     e.updates,
	})
}

// Restore replaces the ensemble state from a snapshot.
func (e *Ensemble) Restore(data []byte) error {
	var st ensembleState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore ensemble: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st.Logistic != nil {
		e.logistic = st.Logistic
	}
	if st.Stumps != nil {
		e.stumps = st.Stumps
	}
	if st.KNN != nil {
		e.knn = st.KNN
	}
	if st.Memory != nil {
		e.memory = &PatternMemory{Table: st.Memory}
	}
	e.calibration = st.Calibration
	e.recent = st.Recent
	e.updates = st.Updates

	e.logger.Info("Ensemble state restored", "updates", e.updates)
	return nil
}
