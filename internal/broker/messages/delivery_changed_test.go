package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeliveryChanged_EncodeDecode(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 15, 0, 0, time.UTC)
	m := DeliveryChanged{
		OrderID:   42,
		Carrier:   "ARAMEX",
		Direction: "OUTBOUND",
		OldStatus: "IN_TRANSIT",
		NewStatus: "DELIVERED",
		ChangedAt: at,
	}

	b, err := m.Encode()
	require.NoError(t, err)
	require.Equal(t, []byte("42"), m.Key())

	got, err := DecodeDeliveryChanged(b)
	require.NoError(t, err)
	require.NotEmpty(t, got.MessageID)
	require.Equal(t, int64(42), got.OrderID)
	require.Equal(t, "DELIVERED", got.NewStatus)
	require.True(t, got.ChangedAt.Equal(at))
}

func TestDecodeDeliveryChanged_Rejects(t *testing.T) {
	_, err := DecodeDeliveryChanged([]byte("{"))
	require.Error(t, err)

	_, err = DecodeDeliveryChanged([]byte(`{"new_status":"DELIVERED"}`))
	require.Error(t, err)
}
