package proj

import (
	"math"
)

// GRS80 ellipsoid
const (
	grs80A = 6378137.0
	grs80F = 1 / 298.257222101
)

// Albers is an Albers equal-area conic projection on an ellipsoid
// (Snyder, Map Projections: A Working Manual, eqs 14-3 to 14-21).
type Albers struct {
	code           int
	a, e, e2       float64
	lon0           float64
	n, c, rho0     float64
	falseE, falseN float64
}

// AlaskaAlbers returns EPSG:3338 (NAD83 / Alaska Albers)
func AlaskaAlbers() *Albers {
	return NewAlbers(EPSGAlaskaAlbers, grs80A, grs80F, 55, 65, 50, -154, 0, 0)
}

// NewAlbers builds an Albers projection from standard parallels lat1/lat2,
// latitude of origin lat0 and central meridian lon0, all in degrees.
func NewAlbers(code int, a, f, lat1, lat2, lat0, lon0, falseE, falseN float64) *Albers {
	e2 := 2*f - f*f
	p := &Albers{
		code:   code,
		a:      a,
		e2:     e2,
		e:      math.Sqrt(e2),
		lon0:   rad(lon0),
		falseE: falseE,
		falseN: falseN,
	}

	m1 := p.m(rad(lat1))
	m2 := p.m(rad(lat2))
	q0 := p.q(rad(lat0))
	q1 := p.q(rad(lat1))
	q2 := p.q(rad(lat2))

	if math.Abs(lat1-lat2) < 1e-10 {
		p.n = math.Sin(rad(lat1))
	} else {
		p.n = (m1*m1 - m2*m2) / (q2 - q1)
	}
	p.c = m1*m1 + p.n*q1
	p.rho0 = a * math.Sqrt(p.c-p.n*q0) / p.n

	return p
}

func (p *Albers) EPSG() int        { return p.code }
func (p *Albers) Geographic() bool { return false }

func (p *Albers) Forward(lon, lat float64) (x, y float64) {
	q := p.q(rad(lat))
	rho := p.a * math.Sqrt(math.Max(0, p.c-p.n*q)) / p.n
	theta := p.n * wrapRad(rad(lon)-p.lon0)
	return p.falseE + rho*math.Sin(theta), p.falseN + p.rho0 - rho*math.Cos(theta)
}

func (p *Albers) Inverse(x, y float64) (lon, lat float64) {
	x -= p.falseE
	y -= p.falseN

	dy := p.rho0 - y
	rho := math.Hypot(x, dy)
	theta := math.Atan2(x, dy)
	if p.n < 0 {
		rho = -rho
		theta = math.Atan2(-x, -dy)
	}

	q := (p.c - rho*rho*p.n*p.n/(p.a*p.a)) / p.n
	phi := p.phiFromQ(q)
	lambda := p.lon0 + theta/p.n

	return deg(wrapRad(lambda)), deg(phi)
}

// q is Snyder eq 3-12
func (p *Albers) q(phi float64) float64 {
	sin := math.Sin(phi)
	es := p.e * sin
	return (1 - p.e2) * (sin/(1-es*es) - (1/(2*p.e))*math.Log((1-es)/(1+es)))
}

// m is Snyder eq 14-15
func (p *Albers) m(phi float64) float64 {
	sin := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-p.e2*sin*sin)
}

// phiFromQ iterates Snyder eq 3-16
func (p *Albers) phiFromQ(q float64) float64 {
	limit := 1 - (1-p.e2)/(2*p.e)*math.Log((1-p.e)/(1+p.e))
	if math.Abs(math.Abs(q)-limit) < 1e-12 {
		return math.Copysign(math.Pi/2, q)
	}

	phi := math.Asin(math.Max(-1, math.Min(1, q/2)))
	for i := 0; i < 25; i++ {
		sin, cos := math.Sincos(phi)
		es := p.e * sin
		one := 1 - es*es
		delta := one * one / (2 * cos) *
			(q/(1-p.e2) - sin/one + (1/(2*p.e))*math.Log((1-es)/(1+es)))
		phi += delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}
	return phi
}

// wrapRad maps an angle into [-pi, pi)
func wrapRad(r float64) float64 {
	r = math.Mod(r+math.Pi, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return r - math.Pi
}
