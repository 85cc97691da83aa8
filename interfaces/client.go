package interfaces

type StreamingClient interface {
	Connect()

	Disconnect()

	AddListener(listener Listener) error

	RemoveListener(listener Listener)

	IsConnected() bool

	IsAuthenticated() bool

	// Errors delivers session-level failures; terminal ones end the session.
	Errors() <-chan error
}
