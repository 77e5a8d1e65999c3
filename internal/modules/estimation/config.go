package estimation

import (
	"errors"
	"fmt"

	"github.com/avolkov/bekk/internal/modules/params"
)

// ErrConfiguration indicates a malformed estimation request. It is raised
// before any optimizer iteration; numeric trouble during optimization never
// surfaces as this error.
var ErrConfiguration = errors.New("invalid configuration")

// Model selects the parameter family.
type Model int

const (
	// Standard estimates free (possibly restricted) coefficient matrices.
	Standard Model = iota
	// Spatial builds coefficient matrices from group-level scalars and a
	// fixed network weight structure.
	Spatial
)

// String returns the canonical tag for the model family.
func (m Model) String() string {
	if m == Spatial {
		return "spatial"
	}
	return "standard"
}

// ParseModel converts a model tag to its Model value.
func ParseModel(s string) (Model, error) {
	switch s {
	case "standard":
		return Standard, nil
	case "spatial":
		return Spatial, nil
	default:
		return 0, fmt.Errorf("unknown model %q: %w", s, ErrConfiguration)
	}
}

// defaultMaxIter bounds the optimizer when the caller does not.
const defaultMaxIter = 2000

// Config describes one estimation request.
type Config struct {
	Model       Model
	Restriction params.Restriction
	// UseTarget eliminates the intercept as a free parameter by deriving it
	// from the sample's unconditional covariance.
	UseTarget bool
	// CFree keeps the intercept free even under targeting. Spatial only.
	CFree bool
	// Groups is required iff Model is Spatial.
	Groups params.Groups
	// Method names the solver: "neldermead" (default) or "bfgs".
	Method  string
	MaxIter int
	// Start optionally seeds the optimizer; when nil the restriction ladder
	// supplies a warm start.
	Start params.Params
}

// normalize validates the request against a cross-section of n assets and
// fills defaults.
func (c Config) normalize(n int) (Config, error) {
	if c.Model == Spatial {
		if len(c.Groups) == 0 {
			return c, fmt.Errorf("spatial model requires groups: %w", ErrConfiguration)
		}
		if !c.Restriction.Spatial() {
			return c, fmt.Errorf("restriction %s is not spatial: %w", c.Restriction, ErrConfiguration)
		}
		if err := c.Groups.Validate(n); err != nil {
			return c, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	} else {
		if c.Restriction.Spatial() {
			return c, fmt.Errorf("restriction %s requires the spatial model: %w", c.Restriction, ErrConfiguration)
		}
		if c.CFree {
			return c, fmt.Errorf("cfree applies to the spatial model only: %w", ErrConfiguration)
		}
	}

	switch c.Method {
	case "":
		c.Method = "neldermead"
	case "neldermead", "bfgs":
	default:
		return c, fmt.Errorf("unknown method %q: %w", c.Method, ErrConfiguration)
	}

	if c.MaxIter <= 0 {
		c.MaxIter = defaultMaxIter
	}

	if c.Start != nil && c.Start.NumAssets() != n {
		return c, fmt.Errorf("start parameters have %d assets, series has %d: %w", c.Start.NumAssets(), n, ErrConfiguration)
	}

	return c, nil
}
