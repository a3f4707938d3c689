package smartcard

import "fmt"

var (
	// ErrCardNotFound is returned when a card for the given key does not
	// exist or has already expired.
	ErrCardNotFound = fmt.Errorf("card not found")
)
