package validation

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	apperr "stagehand/internal/errors"
)

type Validator interface {
	Validate() error
}

// DecodeRequest decodes the JSON body of r into v and validates it.
func DecodeRequest(r *http.Request, v Validator) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.ValidationError("invalid request body", err.Error())
	}
	return v.Validate()
}

// Path checks a repository-relative, slash-separated path.
func Path(p string) error {
	if p == "" {
		return apperr.MissingPath("path")
	}
	if strings.ContainsRune(p, 0) {
		return apperr.ValidationError("path contains a NUL byte", p)
	}
	if strings.HasPrefix(p, "/") {
		return apperr.ValidationError("path must be relative to the repository root", p)
	}
	if clean := path.Clean(p); clean == ".." || strings.HasPrefix(clean, "../") {
		return apperr.ValidationError("path escapes the repository", p)
	}
	return nil
}
