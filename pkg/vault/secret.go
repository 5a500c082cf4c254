package vault

import "regexp"

// maxRecordNameLength is the longest name the remote store accepts.
const maxRecordNameLength = 255

// secretPattern matches secrets usable as record names: alphanumerics with
// optional trailing base32 padding. A leading underscore is reserved by the
// store and excluded by the pattern.
var secretPattern = regexp.MustCompile(`^[A-Za-z0-9]+=*$`)

// IsValidSecret reports whether secret can be used as a record identifier.
func IsValidSecret(secret string) bool {
	if secret == "" || len(secret) > maxRecordNameLength {
		return false
	}
	return secretPattern.MatchString(secret)
}
