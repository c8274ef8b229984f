// Package transport connects the service to the transport registry.
// Implementations live in github.com/drblury/logprocessor/transport/*.
package transport

import (
	newtransport "github.com/drblury/logprocessor/transport"
)

// Capabilities is an alias for the registry Capabilities.
type Capabilities = newtransport.Capabilities

// GetCapabilities returns the capabilities for a transport by name.
func GetCapabilities(transportName string) Capabilities {
	return newtransport.GetCapabilities(transportName)
}
