package simulation

import (
	"math/rand/v2"
)

// Stream separates the random sequences drawn for different entity kinds.
type Stream uint64

const (
	StreamMeter Stream = iota + 1
	StreamTelemetry
	StreamCustomer
	StreamTransformer
	StreamLabels
	StreamImputation
)

// SubSeed derives the seed of one entity's stream from the run seed.
// Entities never share a stream, so generation order does not affect the draws.
func SubSeed(seed uint64, stream Stream, id int) uint64 {
	x := splitmix64(seed ^ splitmix64(uint64(stream)<<32^uint64(id)))
	return splitmix64(x)
}

// NewRand returns the generator of one entity's stream.
func NewRand(seed uint64, stream Stream, id int) *rand.Rand {
	s := SubSeed(seed, stream, id)
	return rand.New(rand.NewPCG(s, splitmix64(s)))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

func normal(rng *rand.Rand, mean, stddev float64) float64 {
	return mean + stddev*rng.NormFloat64()
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
