package coordinator

// Scorer rates a watched token. prob is in [0, 1]; predictedReturn is a
// percentage.
type Scorer interface {
	Score(f Features) (prob, predictedReturn float64)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(f Features) (float64, float64)

func (fn ScorerFunc) Score(f Features) (float64, float64) { return fn(f) }

// ThresholdScorer is a rule-based scorer for running without a trained
// model. prob is the share of rules met; the predicted return is the price
// change since the first observed buy.
type ThresholdScorer struct {
	MinUniqueBuyers int
	MinBuyPressure  float64
	MinVolume1m     float64 // BNB
	MinTrades       int
}

func (s ThresholdScorer) Score(f Features) (float64, float64) {
	rules, met := 0, 0
	check := func(ok bool) {
		rules++
		if ok {
			met++
		}
	}
	check(f.UniqueBuyers >= s.MinUniqueBuyers)
	check(f.BuyPressure >= s.MinBuyPressure)
	check(f.Volume1m >= s.MinVolume1m)
	check(f.TotalBuys+f.TotalSells >= s.MinTrades)
	return float64(met) / float64(rules), f.PriceChangePct
}
