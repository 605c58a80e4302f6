package interfaces

// Service is an operator facing interface of the daemon, like the HTTP API.
type Service interface {
	Start() error
	Stop()
}
