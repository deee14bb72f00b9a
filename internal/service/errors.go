package service

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrChatbotNotFound = errors.New("chatbot not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRating   = errors.New("rating must be between 0 and 5")
)

// Fixed replies. Collaborator errors are never shown to widget users.
const (
	NoDocumentsReply     = "I'm sorry, I don't have any information to answer that yet. Please check back later."
	GenerationErrorReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."
)
