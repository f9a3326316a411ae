package identity

import "strings"

// SafeEmail derives a storage-safe key from an email address by replacing
// every "." with "-", then every "@" with "-". No syntax validation is
// performed. The first pass removes all replaced characters, so the
// function is idempotent for well-formed emails.
func SafeEmail(email string) string {
	s := strings.ReplaceAll(email, ".", "-")
	return strings.ReplaceAll(s, "@", "-")
}

// ProfilePictureKey returns the blob key for a user's profile picture.
func ProfilePictureKey(email string) string {
	return SafeEmail(email) + "_profile_picture.png"
}
