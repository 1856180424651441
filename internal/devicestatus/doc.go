// Package devicestatus tracks the last known status of each RFID reader.
//
// Every message on rfid/status overwrites the reader's record and stamps
// it with the time it was received. Records are never evicted: whether a
// reader is online is decided when asked, by comparing LastSeen with a
// tolerance, so no background timers are needed.
//
// Sinks receive each ingested record. The InfluxDB writer stores every
// heartbeat as a time-series point; the SQLite history keeps only the
// reports where something other than LastSeen changed.
package devicestatus
