// Package realtime assembles the device-messaging layer into one service
// object: the broker connection, the topic router, the reader status
// cache, the scan session and the command publisher.
//
// The service is built explicitly with New and owned by the caller, which
// controls its lifetime with Start and Close. There is no package-level
// instance.
//
// Consumers that need push updates (the WebSocket hub) register with
// OnEvent and receive connection, device, scan and command-response
// events.
package realtime
