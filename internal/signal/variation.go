package signal

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// pseudoRand returns a locked uniform [0,1) source.
func pseudoRand() func() float64 {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64()
	}
}

// varyConfidence adds small per-symbol noise so consecutive signals do
// not repeat identical numbers. The trade gate has already been applied
// to the unvaried value; this is presentation only.
func (e *Engine) varyConfidence(symbol string, conf float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().Unix()
	varied := conf + (e.rng()*5 - 2.5)

	if memo, ok := e.lastConf[symbol]; ok && now-memo.epoch <= 300 {
		if math.Abs(varied-memo.value) < 2 {
			delta := 2 + e.rng()*2
			if varied >= memo.value {
				varied = memo.value + delta
			} else {
				varied = memo.value - delta
			}
		}
	}

	if varied < 0 {
		varied = 0
	}
	if varied > 95 {
		varied = 95
	}
	varied = math.Round(varied*10) / 10
	e.lastConf[symbol] = confMemo{value: varied, epoch: now}
	return varied
}
