package flows

import "strconv"

// Deps groups flow dependency sets. The root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login    LoginDeps
	Gate     GateDeps
	Rotate   RotateDeps
	Logout   LogoutDeps
	Validate ValidateDeps
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
