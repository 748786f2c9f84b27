// Package scene builds the positional argument vectors the HPOP propagator
// understands. The propagator parses them with atof/atoi and does no
// validation of its own, so bad values are rejected here.
package scene

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Module names recognised by the propagator's first argument
const (
	ModuleSceneEdit    = "scene_edit"
	ModulePerturbation = "Perturbation_force"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid scene parameters")

// Builder produces a propagator argument vector
type Builder interface {
	Args() ([]string, error)
}

// Elements are classical Keplerian elements. Distances in km, angles in deg.
type Elements struct {
	A           float64 `json:"a" yaml:"a" mapstructure:"a"`
	E           float64 `json:"e" yaml:"e" mapstructure:"e"`
	I           float64 `json:"i" yaml:"i" mapstructure:"i"`
	RAAN        float64 `json:"raan" yaml:"raan" mapstructure:"raan"`
	ArgPerigee  float64 `json:"arg_perigee" yaml:"arg_perigee" mapstructure:"arg_perigee"`
	TrueAnomaly float64 `json:"true_anomaly" yaml:"true_anomaly" mapstructure:"true_anomaly"`
}

// Validate checks the elements describe a closed orbit
func (e Elements) Validate() error {
	if !finite(e.A, e.E, e.I, e.RAAN, e.ArgPerigee, e.TrueAnomaly) {
		return fmt.Errorf("%w: orbit elements must be finite numbers", ErrInvalid)
	}

	var problems []string
	if e.A <= 0 {
		problems = append(problems, "semi-major axis must be > 0 km")
	}
	if e.E < 0 || e.E >= 1 {
		problems = append(problems, "eccentricity must be in [0, 1)")
	}
	if e.I < 0 || e.I > 180 {
		problems = append(problems, "inclination must be in [0, 180] deg")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (e Elements) args() []string {
	return []string{
		formatKm(e.A),
		formatFloat(e.E),
		formatFloat(e.I),
		formatFloat(e.RAAN),
		formatFloat(e.ArgPerigee),
		formatFloat(e.TrueAnomaly),
	}
}

// Walker is a Walker-delta constellation seeded from one satellite:
// Planes orbital planes, PerPlane satellites in each, phasing factor Phasing.
type Walker struct {
	Seed     Elements `json:"seed" yaml:"seed" mapstructure:"seed"`
	Planes   int      `json:"planes" yaml:"planes" mapstructure:"planes"`
	PerPlane int      `json:"per_plane" yaml:"per_plane" mapstructure:"per_plane"`
	Phasing  int      `json:"phasing" yaml:"phasing" mapstructure:"phasing"`
}

// DefaultWalker is the scene the propagator is usually driven with:
// scene_edit Walker 7000.0 0.001 53 0 0 0 3 4 1
func DefaultWalker() Walker {
	return Walker{
		Seed:     Elements{A: 7000.0, E: 0.001, I: 53},
		Planes:   3,
		PerPlane: 4,
		Phasing:  1,
	}
}

// Satellites returns the constellation size
func (w Walker) Satellites() int {
	return w.Planes * w.PerPlane
}

// Validate checks the seed and the T/S/F pattern
func (w Walker) Validate() error {
	if err := w.Seed.Validate(); err != nil {
		return err
	}
	if w.Planes < 1 {
		return fmt.Errorf("%w: planes must be >= 1", ErrInvalid)
	}
	if w.PerPlane < 1 {
		return fmt.Errorf("%w: satellites per plane must be >= 1", ErrInvalid)
	}
	if w.Phasing < 0 || w.Phasing >= w.Planes {
		return fmt.Errorf("%w: phasing must be in [0, %d)", ErrInvalid, w.Planes)
	}
	return nil
}

// Args renders `scene_edit Walker a e i Ω ω ν T S F`
func (w Walker) Args() ([]string, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	args := []string{ModuleSceneEdit, "Walker"}
	args = append(args, w.Seed.args()...)
	args = append(args,
		strconv.Itoa(w.Planes),
		strconv.Itoa(w.PerPlane),
		strconv.Itoa(w.Phasing),
	)
	return args, nil
}

// WalkerParams is how many positional values follow `scene_edit Walker`
const WalkerParams = 9

// ParseWalker reads the nine positional Walker values (a e i Ω ω ν T S F)
// as they would be passed on the command line.
func ParseWalker(params []string) (Walker, error) {
	if len(params) != WalkerParams {
		return Walker{}, fmt.Errorf("%w: walker needs %d values, got %d", ErrInvalid, WalkerParams, len(params))
	}

	var floats [6]float64
	for i := range floats {
		v, err := strconv.ParseFloat(strings.TrimSpace(params[i]), 64)
		if err != nil {
			return Walker{}, fmt.Errorf("%w: value %d (%q) is not a number", ErrInvalid, i+1, params[i])
		}
		floats[i] = v
	}

	var ints [3]int
	for i := range ints {
		v, err := strconv.Atoi(strings.TrimSpace(params[6+i]))
		if err != nil {
			return Walker{}, fmt.Errorf("%w: value %d (%q) is not an integer", ErrInvalid, 7+i, params[6+i])
		}
		ints[i] = v
	}

	w := Walker{
		Seed: Elements{
			A:           floats[0],
			E:           floats[1],
			I:           floats[2],
			RAAN:        floats[3],
			ArgPerigee:  floats[4],
			TrueAnomaly: floats[5],
		},
		Planes:   ints[0],
		PerPlane: ints[1],
		Phasing:  ints[2],
	}
	return w, w.Validate()
}

// Constellation selects one of the propagator's built-in GNSS scenes
type Constellation string

const (
	BeiDou  Constellation = "BEIDOU"
	GPS     Constellation = "GPS"
	GLONASS Constellation = "GLONASS"
	Galileo Constellation = "GALILEO"
)

// Constellations lists the built-in scenes in a stable order
func Constellations() []Constellation {
	return []Constellation{BeiDou, GPS, GLONASS, Galileo}
}

// ParseConstellation accepts any letter case
func ParseConstellation(name string) (Constellation, error) {
	upper := Constellation(strings.ToUpper(strings.TrimSpace(name)))
	for _, c := range Constellations() {
		if c == upper {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown constellation %q (want one of BEIDOU, GPS, GLONASS, GALILEO)", ErrInvalid, name)
}

// Args renders `scene_edit <NAME>`
func (c Constellation) Args() ([]string, error) {
	if _, err := ParseConstellation(string(c)); err != nil {
		return nil, err
	}
	return []string{ModuleSceneEdit, string(c)}, nil
}

// Perturbation propagates one satellite with drag and solar radiation
// pressure from a given UTC epoch.
type Perturbation struct {
	Epoch     time.Time `json:"epoch" yaml:"epoch" mapstructure:"epoch"`
	Orbit     Elements  `json:"orbit" yaml:"orbit" mapstructure:"orbit"`
	Degree    int       `json:"degree" yaml:"degree" mapstructure:"degree"` // gravity field n
	Order     int       `json:"order" yaml:"order" mapstructure:"order"`    // gravity field m
	AreaDrag  float64   `json:"area_drag" yaml:"area_drag" mapstructure:"area_drag"`
	Mass      float64   `json:"mass" yaml:"mass" mapstructure:"mass"`
	CD        float64   `json:"cd" yaml:"cd" mapstructure:"cd"`
	CR        float64   `json:"cr" yaml:"cr" mapstructure:"cr"`
	AreaSolar float64   `json:"area_solar" yaml:"area_solar" mapstructure:"area_solar"`
}

// DefaultPerturbation carries the spacecraft constants the propagator
// uses for its scene runs.
func DefaultPerturbation(epoch time.Time) Perturbation {
	return Perturbation{
		Epoch:     epoch,
		Orbit:     Elements{A: 7000.0, E: 0.001, I: 53},
		AreaDrag:  55.64,
		Mass:      8000.0,
		CD:        2.7,
		CR:        1.0,
		AreaSolar: 88.4,
	}
}

// Validate checks epoch, orbit, gravity field and spacecraft constants
func (p Perturbation) Validate() error {
	if p.Epoch.IsZero() {
		return fmt.Errorf("%w: epoch is required", ErrInvalid)
	}
	if err := p.Orbit.Validate(); err != nil {
		return err
	}
	if p.Degree < 0 || p.Degree > 360 || p.Order < 0 || p.Order > p.Degree {
		return fmt.Errorf("%w: gravity field needs 0 <= order <= degree <= 360", ErrInvalid)
	}
	if !finite(p.AreaDrag, p.Mass, p.CD, p.CR, p.AreaSolar) {
		return fmt.Errorf("%w: spacecraft constants must be finite numbers", ErrInvalid)
	}
	if p.Mass <= 0 {
		return fmt.Errorf("%w: mass must be > 0 kg", ErrInvalid)
	}
	if p.AreaDrag < 0 || p.AreaSolar < 0 || p.CD < 0 || p.CR < 0 {
		return fmt.Errorf("%w: areas and coefficients must be >= 0", ErrInvalid)
	}
	return nil
}

// Args renders `Perturbation_force YYYY MM DD HH mm SS a e i Ω ω ν n m
// Area_drag mass CD CR Area_solar`
func (p Perturbation) Args() ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	t := p.Epoch.UTC()
	sec := float64(t.Second()) + float64(t.Nanosecond())/1e9

	args := []string{
		ModulePerturbation,
		strconv.Itoa(t.Year()),
		strconv.Itoa(int(t.Month())),
		strconv.Itoa(t.Day()),
		strconv.Itoa(t.Hour()),
		strconv.Itoa(t.Minute()),
		formatFloat(sec),
	}
	args = append(args, p.Orbit.args()...)
	args = append(args,
		strconv.Itoa(p.Degree),
		strconv.Itoa(p.Order),
		formatFloat(p.AreaDrag),
		formatFloat(p.Mass),
		formatFloat(p.CD),
		formatFloat(p.CR),
		formatFloat(p.AreaSolar),
	)
	return args, nil
}

// finite is false for NaN and ±Inf, which every range comparison lets through
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatKm keeps a decimal point on whole distances, so 7000 renders as
// "7000.0" the way the propagator's callers spell it.
func formatKm(v float64) string {
	s := formatFloat(v)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
