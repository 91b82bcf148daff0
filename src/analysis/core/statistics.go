package core

import "math"

// -----------------------------------------------------------------------------

// Moments accumulates the mean and population variance of a stream of values
// in one pass (Welford).
type Moments struct {
	N    int
	Mean float64
	m2   float64
}

// Add folds x into the running moments.
func (m *Moments) Add(x float64) {
	m.N++
	delta := x - m.Mean
	m.Mean += delta / float64(m.N)
	m.m2 += delta * (x - m.Mean)
}

// Std is the population standard deviation, 0 below two values.
func (m Moments) Std() float64 {
	if m.N < 2 {
		return 0
	}
	return math.Sqrt(m.m2 / float64(m.N))
}

// ZScore is the standard score of x against the accumulated values.
func (m Moments) ZScore(x float64) float64 {
	std := m.Std()
	if std == 0 {
		return 0
	}
	return (x - m.Mean) / std
}

// -----------------------------------------------------------------------------

// CoMoments accumulates two paired series and their co-moment.
type CoMoments struct {
	X, Y Moments
	cxy  float64
}

// Add folds the pair (x, y).
func (c *CoMoments) Add(x, y float64) {
	dx := x - c.X.Mean
	c.X.Add(x)
	c.Y.Add(y)
	c.cxy += dx * (y - c.Y.Mean)
}

// Correlation is the Pearson coefficient; a series without variance gives 0.
func (c CoMoments) Correlation() float64 {
	if c.X.N < 2 || c.X.m2 == 0 || c.Y.m2 == 0 {
		return 0
	}
	r := c.cxy / math.Sqrt(c.X.m2*c.Y.m2)
	if math.IsNaN(r) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// -----------------------------------------------------------------------------

// ChangePercent is the move from previous to current in percent.
func ChangePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}
