package tool

import "github.com/google/uuid"

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ShortID returns the first block of a random UUID, handy for channel names.
func ShortID() string {
	return uuid.NewString()[:8]
}
