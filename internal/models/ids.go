package models

import "regexp"

var (
	chatbotIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidChatbotID reports whether id is a well-formed public chatbot id.
func ValidChatbotID(id string) bool {
	return chatbotIDPattern.MatchString(id)
}

// ValidSessionID reports whether a client-supplied session id is well-formed.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
