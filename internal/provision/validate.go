package provision

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/raftisctl/internal/model"
)

var validate = validator.New()

// labelRegex matches the prefix and datacenter segments of an instance name.
var labelRegex = regexp.MustCompile(`^[a-z][a-z0-9]*$`)

func init() {
	validate.RegisterValidation("identlabel", func(fl validator.FieldLevel) bool {
		return labelRegex.MatchString(fl.Field().String())
	})
}

// ValidateRequest checks a request after defaults have been applied.
func ValidateRequest(req model.ProvisionRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid provision request: %w", err)
	}
	return nil
}
