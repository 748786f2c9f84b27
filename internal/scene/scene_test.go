package scene

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWalkerArgs(t *testing.T) {
	args, err := DefaultWalker().Args()
	require.NoError(t, err)

	expected := []string{"scene_edit", "Walker", "7000.0", "0.001", "53", "0", "0", "0", "3", "4", "1"}
	assert.Equal(t, expected, args)
	assert.Equal(t, 12, DefaultWalker().Satellites())
}

func TestWalkerValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Walker)
		errMsg string
	}{
		{"zero axis", func(w *Walker) { w.Seed.A = 0 }, "semi-major axis"},
		{"hyperbolic", func(w *Walker) { w.Seed.E = 1 }, "eccentricity"},
		{"inclination", func(w *Walker) { w.Seed.I = 181 }, "inclination"},
		{"no planes", func(w *Walker) { w.Planes = 0 }, "planes"},
		{"no satellites", func(w *Walker) { w.PerPlane = 0 }, "per plane"},
		{"phasing too large", func(w *Walker) { w.Phasing = 3 }, "phasing"},
		{"negative phasing", func(w *Walker) { w.Phasing = -1 }, "phasing"},
		{"NaN axis", func(w *Walker) { w.Seed.A = math.NaN() }, "finite"},
		{"NaN inclination", func(w *Walker) { w.Seed.I = math.NaN() }, "finite"},
		{"infinite axis", func(w *Walker) { w.Seed.A = math.Inf(1) }, "finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := DefaultWalker()
			tt.mutate(&w)

			_, err := w.Args()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWalkerFractionalValues(t *testing.T) {
	w := DefaultWalker()
	w.Seed.A = 7078.137
	w.Seed.RAAN = 12.5

	args, err := w.Args()
	require.NoError(t, err)
	assert.Equal(t, "7078.137", args[2])
	assert.Equal(t, "12.5", args[5])
}

func TestParseConstellation(t *testing.T) {
	tests := []struct {
		in       string
		expected Constellation
		wantErr  bool
	}{
		{"BEIDOU", BeiDou, false},
		{"gps", GPS, false},
		{" Glonass ", GLONASS, false},
		{"galileo", Galileo, false},
		{"walker", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseConstellation(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c)
		})
	}
}

func TestConstellationArgs(t *testing.T) {
	args, err := GPS.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_edit", "GPS"}, args)

	_, err = Constellation("IRNSS").Args()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPerturbationArgs(t *testing.T) {
	epoch := time.Date(2024, 1, 2, 4, 0, 30, 500_000_000, time.UTC)
	p := DefaultPerturbation(epoch)
	p.Degree = 20
	p.Order = 20

	args, err := p.Args()
	require.NoError(t, err)

	expected := []string{
		"Perturbation_force",
		"2024", "1", "2", "4", "0", "30.5",
		"7000.0", "0.001", "53", "0", "0", "0",
		"20", "20",
		"55.64", "8000", "2.7", "1", "88.4",
	}
	assert.Equal(t, expected, args)
	// The propagator insists on at least 16 argv entries including argv[0]
	assert.GreaterOrEqual(t, len(args)+1, 16)
}

func TestPerturbationEpochNormalisedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	p := DefaultPerturbation(time.Date(2024, 1, 2, 12, 0, 0, 0, loc))

	args, err := p.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024", "1", "2", "4"}, args[1:5])
}

func TestPerturbationValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Perturbation)
	}{
		{"no epoch", func(p *Perturbation) { p.Epoch = time.Time{} }},
		{"order above degree", func(p *Perturbation) { p.Degree = 2; p.Order = 3 }},
		{"degree too high", func(p *Perturbation) { p.Degree = 400 }},
		{"massless", func(p *Perturbation) { p.Mass = 0 }},
		{"negative drag area", func(p *Perturbation) { p.AreaDrag = -1 }},
		{"bad orbit", func(p *Perturbation) { p.Orbit.E = 2 }},
		{"NaN mass", func(p *Perturbation) { p.Mass = math.NaN() }},
		{"infinite drag coefficient", func(p *Perturbation) { p.CD = math.Inf(1) }},
		{"infinite solar area", func(p *Perturbation) { p.AreaSolar = math.Inf(-1) }},
		{"NaN anomaly", func(p *Perturbation) { p.Orbit.TrueAnomaly = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPerturbation(time.Now())
			tt.mutate(&p)
			_, err := p.Args()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseWalker(t *testing.T) {
	w, err := ParseWalker([]string{"7000.0", "0.001", "53", "0", "0", "0", "3", "4", "1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultWalker(), w)

	tests := []struct {
		name   string
		params []string
		errMsg string
	}{
		{"too few", []string{"7000.0"}, "needs 9 values"},
		{"not a number", []string{"abc", "0.001", "53", "0", "0", "0", "3", "4", "1"}, "not a number"},
		{"fractional planes", []string{"7000.0", "0.001", "53", "0", "0", "0", "3.5", "4", "1"}, "not an integer"},
		{"hyperbolic", []string{"7000.0", "1.2", "53", "0", "0", "0", "3", "4", "1"}, "eccentricity"},
		{"NaN axis", []string{"NaN", "0.001", "53", "0", "0", "0", "3", "4", "1"}, "finite"},
		{"NaN eccentricity", []string{"7000.0", "NaN", "53", "0", "0", "0", "3", "4", "1"}, "finite"},
		{"infinite inclination", []string{"7000.0", "0.001", "Inf", "0", "0", "0", "3", "4", "1"}, "finite"},
		{"negative infinite raan", []string{"7000.0", "0.001", "53", "-Inf", "0", "0", "3", "4", "1"}, "finite"},
		{"infinite anomaly", []string{"7000.0", "0.001", "53", "0", "0", "+Inf", "3", "4", "1"}, "finite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWalker(tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
