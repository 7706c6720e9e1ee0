package handler

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// TagWorkspaceID validates workspace identifiers: lowercase
// alphanumerics, hyphens and underscores, 1 to 64 characters.
const TagWorkspaceID = "workspaceid"

var workspaceIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation(TagWorkspaceID, validateWorkspaceID)
	}
}

func validateWorkspaceID(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		// Let 'required' handle empty values
		return true
	}
	return workspaceIDRegex.MatchString(value)
}
