package modem_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/mock/gomock"
	"i4.energy/across/nbiot/at"
	"i4.energy/across/nbiot/modem"
)

func TestModemIsConnected(t *testing.T) {
	tests := []struct {
		name     string
		attached bool
	}{
		{"Attached", true},
		{"Detached", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			m := newMockModem(t, ctrl, func(b *MockSequenceBuilder) []any {
				return b.Attached(tt.attached).Build()
			})

			attached, err := m.IsConnected(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if attached != tt.attached {
				t.Errorf("expected attached=%v, got %v", tt.attached, attached)
			}
		})
	}

	t.Run("Malformed attach state", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT+CGATT?", "+CGATT: yes", "OK")

		_, err := m.IsConnected(context.Background())
		if !errors.Is(err, at.ErrMalformedReply) {
			t.Errorf("expected ErrMalformedReply, got: %v", err)
		}
	})

	t.Run("OK without attach state", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT+CGATT?", "OK")

		attached, err := m.IsConnected(context.Background())
		if !errors.Is(err, at.ErrMalformedReply) {
			t.Errorf("expected ErrMalformedReply, got: %v", err)
		}
		if attached {
			t.Error("expected detached on error")
		}
	})
}

func TestModemSignalQuality(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  modem.Signal
	}{
		{"Unknown", "+CSQ: 99,99", modem.Signal{CSQ: 99, RSSI: 0, BER: 0}},
		{"Reading", "+CSQ: 10,3", modem.Signal{CSQ: 10, RSSI: -93, BER: 25}},
		{"Weakest", "+CSQ: 0,0", modem.Signal{CSQ: 0, RSSI: -113, BER: 49}},
		{"Strongest", "+CSQ: 31,7", modem.Signal{CSQ: 31, RSSI: -51, BER: 0}},
		{"BER out of range", "+CSQ: 20,8", modem.Signal{CSQ: 20, RSSI: -73, BER: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, transport := newScriptedModem(t, nil)
			transport.Expect("AT+CSQ", tt.reply, "OK")

			got, err := m.SignalQuality(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}

	t.Run("Malformed report", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT+CSQ", "+CSQ: 10", "OK")

		if _, err := m.SignalQuality(context.Background()); !errors.Is(err, at.ErrMalformedReply) {
			t.Errorf("expected ErrMalformedReply, got: %v", err)
		}
	})
}

func TestCSQConversion(t *testing.T) {
	tests := []struct {
		csq  int
		rssi int
	}{
		{0, -113},
		{10, -93},
		{31, -51},
		{99, 0},
		{-1, 0},
		{32, 0},
	}

	for _, tt := range tests {
		if got := modem.CSQToRSSI(tt.csq); got != tt.rssi {
			t.Errorf("CSQToRSSI(%d) = %d, want %d", tt.csq, got, tt.rssi)
		}
	}

	for csq := 0; csq <= 31; csq++ {
		if got := modem.RSSIToCSQ(modem.CSQToRSSI(csq)); got != csq {
			t.Errorf("RSSIToCSQ(CSQToRSSI(%d)) = %d", csq, got)
		}
	}

	if got := modem.RSSIToCSQ(0); got != 99 {
		t.Errorf("RSSIToCSQ(0) = %d, want 99", got)
	}
	if got := modem.RSSIToCSQ(-140); got != 0 {
		t.Errorf("RSSIToCSQ(-140) = %d, want 0", got)
	}
	if got := modem.RSSIToCSQ(-20); got != 31 {
		t.Errorf("RSSIToCSQ(-20) = %d, want 31", got)
	}
}

func TestModemCreateContext(t *testing.T) {
	t.Run("Binds the APN to context 1", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect(`AT+CGDCONT=1,"IP","iot.example"`, "OK")

		if err := m.CreateContext(context.Background(), "iot.example"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("ErrInvalidAPN", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)

		for _, apn := range []string{"", `bad"apn`, "bad\rapn"} {
			if err := m.CreateContext(context.Background(), apn); !errors.Is(err, modem.ErrInvalidAPN) {
				t.Errorf("CreateContext(%q): expected ErrInvalidAPN, got: %v", apn, err)
			}
		}
		if written := transport.Written(); len(written) != 0 {
			t.Errorf("expected nothing written, got %q", written)
		}
	})
}

func TestModemDisconnect(t *testing.T) {
	m, transport := newScriptedModem(t, nil)
	transport.Expect("AT+CGATT=0", "OK")

	if err := m.Disconnect(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
