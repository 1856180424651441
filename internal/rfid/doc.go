// Package rfid defines the messages exchanged with the ESP32 RFID readers.
//
// Inbound payloads are decoded at the router boundary into one of the
// Message variants (TagRead, DeviceStatus, Command, CommandResponse,
// SystemStatus, Unknown) so downstream code never pokes at raw JSON.
// Outbound admin commands are built and published by CommandPublisher.
package rfid
