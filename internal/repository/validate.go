package repository

import "github.com/go-playground/validator/v10"

// validate checks records at the store boundary before they are written
var validate = validator.New(validator.WithRequiredStructEnabled())
