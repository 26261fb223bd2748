// ABOUTME: Version constants for the snapstream server
// ABOUTME: Reported in logs and in the hello exchange

package version

const (
	// Version is the software version.
	Version = "0.1.0"

	// Product is the product name.
	Product = "Snapstream Server"

	// Manufacturer identifies the project.
	Manufacturer = "Snapstream"
)
