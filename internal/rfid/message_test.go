package rfid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
)

func TestParse_TagRead(t *testing.T) {
	msg, err := Parse(mqtt.TopicTagRead, []byte(`{"uid":" ab12cd34 ","device_id":"ESP32-01","signal_strength":-48,"timestamp":1712000000}`))
	require.NoError(t, err)

	read, ok := msg.(TagRead)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, KindTagRead, read.Kind())
	assert.Equal(t, "AB12CD34", read.NormalizedUID())
	assert.Equal(t, "ESP32-01", read.Device())
	require.NotNil(t, read.SignalStrength)
	assert.InDelta(t, -48, *read.SignalStrength, 0.001)
	require.NotNil(t, read.Timestamp)
	assert.Equal(t, int64(1712000000), *read.Timestamp)
}

func TestParse_TagReadDefaultsDevice(t *testing.T) {
	read, err := ParseTagRead([]byte(`{"uid":"04a1b2c3"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultDeviceID, read.Device())
}

func TestParse_TagReadRejected(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"not json", "AB12CD34"},
		{"missing uid", `{"device_id":"ESP32-01"}`},
		{"blank uid", `{"uid":"   "}`},
		{"wrong type", `{"uid":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(mqtt.TopicTagRead, []byte(tt.payload))
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestParse_DeviceStatus(t *testing.T) {
	msg, err := Parse(mqtt.TopicDeviceStatus, []byte(`{
		"device_id":"ESP32-02","wifi_connected":true,"mqtt_connected":true,
		"rfid_ready":false,"device_ip":"192.168.1.40","uptime":3600,
		"firmware_version":"1.4.2"}`))
	require.NoError(t, err)

	st, ok := msg.(DeviceStatus)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "ESP32-02", st.Device())
	assert.True(t, st.WiFiConnected)
	assert.True(t, st.MQTTConnected)
	assert.False(t, st.RFIDReady)
	require.NotNil(t, st.IPAddress)
	assert.Equal(t, "192.168.1.40", *st.IPAddress)
	require.NotNil(t, st.UptimeString())
	assert.Equal(t, "3600", *st.UptimeString())
	require.NotNil(t, st.FirmwareVersion)
	assert.Equal(t, "1.4.2", *st.FirmwareVersion)
}

func TestParse_DeviceStatusMinimal(t *testing.T) {
	st, err := ParseDeviceStatus([]byte(`{"uptime":"2h 5m"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultDeviceID, st.Device())
	assert.Nil(t, st.IPAddress)
	assert.Equal(t, "2h 5m", *st.UptimeString())
}

func TestParse_CommandTopic(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Kind
	}{
		{"admin command echo", `{"command":"restart","device_id":"ESP32-01","timestamp":1,"payload":{},"from":"admin"}`, KindCommand},
		{"access response", `{"uid":"AB12CD34","status":"ok","user":"Budi","message":"Welcome","access_granted":true}`, KindCommandResponse},
		{"denied response", `{"status":"denied","access_granted":false}`, KindCommandResponse},
		{"something else", `{"hello":"world"}`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(mqtt.TopicCommand, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind())
		})
	}

	msg, err := Parse(mqtt.TopicCommand, []byte(`{"uid":"AB12CD34","user":"Budi","access_granted":true}`))
	require.NoError(t, err)
	resp := msg.(CommandResponse)
	assert.True(t, resp.AccessGranted)
	assert.Equal(t, "Budi", resp.User)
}

func TestParse_SystemStatus(t *testing.T) {
	payload := []byte(`{"status":"online","client_id":"kost-rfid-1","extra":{"rooms":12}}`)
	msg, err := Parse(mqtt.TopicSystemStatus, payload)
	require.NoError(t, err)

	st := msg.(SystemStatus)
	assert.Equal(t, "online", st.Status)
	assert.Equal(t, "kost-rfid-1", st.ClientID)
	assert.JSONEq(t, string(payload), string(st.Raw))
}

func TestParse_UnknownTopic(t *testing.T) {
	msg, err := Parse("kost/other", []byte("raw"))
	require.NoError(t, err)

	u := msg.(Unknown)
	assert.Equal(t, "kost/other", u.Topic)
	assert.Equal(t, []byte("raw"), u.Payload)
}

func TestNormalizeUID(t *testing.T) {
	assert.Equal(t, "AB12CD34", NormalizeUID("ab12cd34"))
	assert.Equal(t, "AB12CD34", NormalizeUID("\tAb12Cd34\n"))
	assert.Equal(t, "", NormalizeUID("  "))
}

func TestDecode(t *testing.T) {
	router := mqtt.NewRouter(nil)

	var got []Message
	router.Subscribe("rfid/#", Decode(func(_ string, msg Message) {
		got = append(got, msg)
	}))

	router.Dispatch(mqtt.TopicTagRead, []byte(`{"uid":"ab12cd34"}`))
	router.Dispatch(mqtt.TopicTagRead, []byte(`garbage`))
	router.Dispatch(mqtt.TopicDeviceStatus, []byte(`{}`))

	require.Len(t, got, 2)
	assert.Equal(t, KindTagRead, got[0].Kind())
	assert.Equal(t, KindDeviceStatus, got[1].Kind())
}
