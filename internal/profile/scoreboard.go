package profile

// vehicleKey identifies a scored candidate at year or model granularity.
// yearID is zero for model-level keys.
type vehicleKey struct {
	brandID int64
	modelID int64
	yearID  int64
}

// scoreBoard accumulates evidence at the three granularities. Insertion
// order is tracked per map so ties resolve deterministically to the
// first-seen key.
type scoreBoard struct {
	years  map[vehicleKey]int
	models map[vehicleKey]int
	brands map[int64]int

	yearOrder  []vehicleKey
	modelOrder []vehicleKey
	brandOrder []int64
}

func newScoreBoard() *scoreBoard {
	return &scoreBoard{
		years:  make(map[vehicleKey]int),
		models: make(map[vehicleKey]int),
		brands: make(map[int64]int),
	}
}

// apply credits one classified signal to the board. A year match feeds
// all three granularities, a model match two, a brand match one.
func (b *scoreBoard) apply(m match) {
	switch m.kind {
	case matchYear:
		b.addYear(vehicleKey{m.brandID, m.modelID, m.yearID}, 10)
		b.addModel(vehicleKey{brandID: m.brandID, modelID: m.modelID}, 9)
		b.addBrand(m.brandID, 3)
	case matchModel:
		b.addModel(vehicleKey{brandID: m.brandID, modelID: m.modelID}, 6)
		b.addBrand(m.brandID, 2)
	case matchBrand:
		b.addBrand(m.brandID, 2)
	}
}

func (b *scoreBoard) addYear(k vehicleKey, points int) {
	if _, ok := b.years[k]; !ok {
		b.yearOrder = append(b.yearOrder, k)
	}
	b.years[k] += points
}

func (b *scoreBoard) addModel(k vehicleKey, points int) {
	if _, ok := b.models[k]; !ok {
		b.modelOrder = append(b.modelOrder, k)
	}
	b.models[k] += points
}

func (b *scoreBoard) addBrand(id int64, points int) {
	if _, ok := b.brands[id]; !ok {
		b.brandOrder = append(b.brandOrder, id)
	}
	b.brands[id] += points
}

// bestYear returns the highest-scoring year key; on equal scores the
// first-seen key wins.
func (b *scoreBoard) bestYear() (vehicleKey, int) {
	var bestKey vehicleKey
	bestScore := 0
	for _, k := range b.yearOrder {
		if b.years[k] > bestScore {
			bestKey, bestScore = k, b.years[k]
		}
	}
	return bestKey, bestScore
}

// bestModel returns the highest-scoring model key, first-seen on ties.
func (b *scoreBoard) bestModel() (vehicleKey, int) {
	var bestKey vehicleKey
	bestScore := 0
	for _, k := range b.modelOrder {
		if b.models[k] > bestScore {
			bestKey, bestScore = k, b.models[k]
		}
	}
	return bestKey, bestScore
}

// bestBrand returns the highest-scoring brand id, first-seen on ties.
func (b *scoreBoard) bestBrand() (int64, int) {
	var bestID int64
	bestScore := 0
	for _, id := range b.brandOrder {
		if b.brands[id] > bestScore {
			bestID, bestScore = id, b.brands[id]
		}
	}
	return bestID, bestScore
}
