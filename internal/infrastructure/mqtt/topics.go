package mqtt

// Well-known topics shared by the RFID readers and the admin portal.
const (
	// TopicTagRead carries card reads from any reader.
	TopicTagRead = "rfid/tags"

	// TopicDeviceStatus carries reader heartbeats and status reports.
	TopicDeviceStatus = "rfid/status"

	// TopicCommand carries admin commands to readers and their response echoes.
	TopicCommand = "rfid/command"

	// TopicSystemStatus carries system-wide status, including this
	// client's own online/offline and Last Will messages.
	TopicSystemStatus = "kost_system/status"
)

