package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/go-playground/validator/v10"

	"github.com/gobeaver/resourcekit"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	uids := make(map[int]string)
	defaults := 0
	for i, rec := range cfg.Storages {
		if rec.UID != 0 {
			if other, dup := uids[rec.UID]; dup {
				return fmt.Errorf("%w: storages[%d]: uid %d already used by %q", resourcekit.ErrInvalidArgument, i, rec.UID, other)
			}
			uids[rec.UID] = rec.Name
		}
		if rec.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%w: storages: %d storages are marked default", resourcekit.ErrInvalidArgument, defaults)
	}
	return nil
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%w: %s: validation failed on '%s' tag (value: %v)",
			resourcekit.ErrInvalidArgument, e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
