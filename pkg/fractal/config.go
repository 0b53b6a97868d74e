package fractal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// validate is shared; validator caches struct metadata and is safe for
// concurrent use.
var validate = validator.New()

// Config is the immutable input of one generation run.
type Config struct {
	Rules     RuleSet `json:"rules"`
	Depth     int     `json:"depth" validate:"gte=0"`
	Invert    bool    `json:"invert"`
	Randomize bool    `json:"randomize"`

	// Anisotropic switches child sizing from size/parts to size/2 on axes
	// with a negative offset component and size/4 otherwise.
	Anisotropic bool `json:"anisotropic"`
}

// Option tweaks a Config built by NewConfig.
type Option func(*Config)

// WithAnisotropic enables the anisotropic child sizing mode.
func WithAnisotropic() Option {
	return func(c *Config) { c.Anisotropic = true }
}

// NewConfig builds and validates a generation configuration. Invalid rule
// sets and negative depths are rejected here so the engine never sees them.
func NewConfig(rules RuleSet, depth int, invert, randomize bool, opts ...Option) (Config, error) {
	c := Config{
		Rules:     rules,
		Depth:     depth,
		Invert:    invert,
		Randomize: randomize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the depth and the rule set.
func (c Config) Validate() error {
	if err := c.Rules.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("fractal: config: %s: %w", describeValidation(err), ErrInvalidConfig)
	}
	return nil
}

// describeValidation flattens validator errors into "Field: message" pairs.
func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), validationMessage(fe)))
	}
	return strings.Join(msgs, "; ")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
