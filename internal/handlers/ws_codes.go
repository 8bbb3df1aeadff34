// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the subscribe handler. These provide
// more specific reasons for closure than standard codes.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	// Add more custom codes as needed for specific subscription errors.
)
