// Kestrel is a streaming speech-to-text protocol proxy.
//
// It sits between streaming clients and a fleet of speech-to-text engines,
// routing each audio session to a backend by its declared attributes,
// failing over between candidates before audio flows, and relaying events
// in both directions until the final transcript.
//
// Usage:
//
//	# Start the proxy with default configuration
//	kestrel run
//
//	# Start with a custom configuration file
//	kestrel run --config /etc/kestrel/config.yaml
//
//	# Validate configuration and routing rules without starting
//	kestrel validate
//
//	# Show version information
//	kestrel version
package main

func main() {
	Execute()
}
