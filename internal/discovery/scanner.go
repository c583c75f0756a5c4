// Package discovery finds importable accounts in local token caches and
// export files.
package discovery

import (
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/pysugar/account-nexus/internal/util"
)

// ScanResult holds the result of scanning all sources
type ScanResult struct {
	Credentials []Credential `json:"credentials"`
	Errors      []ScanError  `json:"errors,omitempty"`
}

// ScanError represents an error encountered during scanning
type ScanError struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// Scanner walks a fixed list of sources.
type Scanner struct {
	Sources []Source
}

// NewScanner creates a scanner over sources.
func NewScanner(sources ...Source) *Scanner {
	return &Scanner{Sources: sources}
}

// Scan reads every source. Unreadable files are reported, not fatal.
func (s *Scanner) Scan() *ScanResult {
	result := &ScanResult{
		Credentials: make([]Credential, 0),
		Errors:      make([]ScanError, 0),
	}

	for _, source := range s.Sources {
		creds, errs := scanSource(source)
		result.Credentials = append(result.Credentials, creds...)
		result.Errors = append(result.Errors, errs...)
	}

	log.Info().Int("found", len(result.Credentials)).Int("sources", len(s.Sources)).Msg("🔍 Discovery scan finished")
	return result
}

// scanSource scans a single source for credentials
func scanSource(source Source) ([]Credential, []ScanError) {
	var credentials []Credential
	var errors []ScanError

	for _, pathPattern := range source.ConfigPaths {
		expanded := expandPath(pathPattern)

		matches, err := filepath.Glob(expanded)
		if err != nil {
			errors = append(errors, ScanError{
				Source: source.Name,
				Path:   expanded,
				Error:  "glob error: " + err.Error(),
			})
			continue
		}

		for _, path := range matches {
			creds, err := source.Parser(path)
			if err != nil {
				errors = append(errors, ScanError{
					Source: source.Name,
					Path:   path,
					Error:  util.ErrorText(err),
				})
				continue
			}
			if len(creds) > 0 {
				log.Debug().Str("source", source.Name).Str("path", path).Int("count", len(creds)).Msg("🔍 Found credentials")
			}
			credentials = append(credentials, creds...)
		}
	}

	return credentials, errors
}

// MaskCredential returns a copy of the credential with masked secrets
func MaskCredential(cred Credential) Credential {
	masked := cred
	masked.Input.AccessToken = util.MaskToken(cred.Input.AccessToken)
	masked.Input.RefreshToken = util.MaskToken(cred.Input.RefreshToken)
	if cred.Input.ClientSecret != "" {
		masked.Input.ClientSecret = util.MaskToken(cred.Input.ClientSecret)
	}
	return masked
}
