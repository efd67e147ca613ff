package modem_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/nbiot/at"
	"i4.energy/across/nbiot/modem"
)

// fastConfig returns a builder with timings short enough for tests.
func fastConfig(dialer modem.Dialer) *modem.ConfigBuilder {
	return modem.NewConfigBuilder().
		WithDialer(dialer).
		WithATTimeout(200 * time.Millisecond).
		WithAliveTimeout(30 * time.Millisecond).
		WithPowerOnRetries(3).
		WithRebootTimeout(50 * time.Millisecond).
		WithSignalTimeout(300 * time.Millisecond).
		WithAttachTimeout(300 * time.Millisecond).
		WithDetachTimeout(200 * time.Millisecond).
		WithPollInterval(5 * time.Millisecond).
		WithByteTimeout(5 * time.Millisecond).
		WithPollDelay(time.Millisecond)
}

func transportDialer(transport modem.Transport) modem.Dialer {
	return modem.DialerFunc(func(context.Context) (modem.Transport, error) {
		return transport, nil
	})
}

// newScriptedModem returns a Modem talking to a TestTransport.
func newScriptedModem(t *testing.T, builder func(*modem.ConfigBuilder) *modem.ConfigBuilder) (*modem.Modem, *modem.TestTransport) {
	t.Helper()

	transport := modem.NewTestTransport()
	b := fastConfig(transportDialer(transport))
	if builder != nil {
		b = builder(b)
	}
	config, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	return m, transport
}

// newMockModem returns a Modem on a MockTransport expecting calls in order.
func newMockModem(t *testing.T, ctrl *gomock.Controller, script func(*MockSequenceBuilder) []any) *modem.Modem {
	t.Helper()

	mockTransport := modem.NewMockTransport(ctrl)
	mockDialer := modem.NewMockDialer(ctrl)

	calls := script(NewMockSequence(mockTransport))
	gomock.InOrder(slices.Concat(
		[]any{
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
		},
		calls,
	)...)

	config, err := fastConfig(mockDialer).Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	return m
}

func TestModemNew(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(context.Background(), config)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if m == nil {
			t.Fatal("New() should return valid modem on success")
		}
		if state := m.BringUpState(); state != "" {
			t.Errorf("expected no bring-up state before Connect, got %q", state)
		}

		// Clean up
		mockTransport.EXPECT().Close().Return(nil)
		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		ctx := context.Background()
		m, err := modem.New(ctx, config)

		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if m != nil {
			t.Error("New() should return nil modem when dialer fails")
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when no dialer provided")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		_, err = modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized from New(), got: %v", err)
		}
	})

	t.Run("ErrNotInitialized on zero Modem", func(t *testing.T) {
		var m modem.Modem
		if err := m.SetRadioActive(context.Background(), true); !errors.Is(err, modem.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized, got: %v", err)
		}
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Closes underlying transport successfully", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			mockTransport.EXPECT().Close().Return(nil),
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		closeError := errors.New("transport close failed")
		gomock.InOrder(
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			mockTransport.EXPECT().Close().Return(closeError),
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); !errors.Is(err, closeError) {
			t.Errorf("expected close error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		m, _ := newScriptedModem(t, nil)

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from first Close(): %v", err)
		}
		if err := m.Close(); !errors.Is(err, modem.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
	})

	t.Run("Commands fail after close", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		_ = m.Close()

		if _, err := m.IsAlive(context.Background()); !errors.Is(err, modem.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
		if written := transport.Written(); len(written) != 0 {
			t.Errorf("expected nothing written after close, got %q", written)
		}
	})
}

func TestModemIsAlive(t *testing.T) {
	t.Run("Alive on OK", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		m := newMockModem(t, ctrl, func(b *MockSequenceBuilder) []any {
			return b.AT().Build()
		})

		alive, err := m.IsAlive(context.Background())
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !alive {
			t.Error("expected modem to be alive")
		}
	})

	t.Run("Not alive when silent", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT")

		start := time.Now()
		alive, err := m.IsAlive(context.Background())
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if alive {
			t.Error("expected modem not to be alive")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("liveness probe took %v", elapsed)
		}
	})

	t.Run("Not alive on ERROR", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT", "ERROR")

		alive, err := m.IsAlive(context.Background())
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if alive {
			t.Error("expected modem not to be alive")
		}
	})

	t.Run("Transport errors are returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		gomock.InOrder(
			mockTransport.EXPECT().Write([]byte("AT\r")).Return(0, io.ErrClosedPipe),
		)

		config, err := fastConfig(transportDialer(mockTransport)).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if _, err := m.IsAlive(context.Background()); !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("expected io.ErrClosedPipe, got: %v", err)
		}
	})
}

func TestModemOn(t *testing.T) {
	t.Run("Retries until the modem answers", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.
			Expect("AT").
			Expect("AT").
			Expect("AT", "OK")

		if err := m.On(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if got := len(transport.Written()); got != 3 {
			t.Errorf("expected 3 probes, got %d", got)
		}
	})

	t.Run("ErrNotAlive after the retries", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)

		err := m.On(context.Background())
		if !errors.Is(err, modem.ErrNotAlive) {
			t.Errorf("expected ErrNotAlive, got: %v", err)
		}
		if got := len(transport.Written()); got != 3 {
			t.Errorf("expected 3 probes, got %d", got)
		}
	})
}

func TestModemSetRadioActive(t *testing.T) {
	tests := []struct {
		name string
		on   bool
		cmd  string
	}{
		{"On", true, "AT+CFUN=1"},
		{"Off", false, "AT+CFUN=0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, transport := newScriptedModem(t, nil)
			transport.Expect(tt.cmd, "OK")

			if err := m.SetRadioActive(context.Background(), tt.on); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if remaining := transport.Remaining(); len(remaining) != 0 {
				t.Errorf("commands not sent: %q", remaining)
			}
		})
	}

	t.Run("Modem error carries the reply", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT+CFUN=1", "+CME ERROR: 4")

		err := m.SetRadioActive(context.Background(), true)

		var cmdErr *at.CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("expected *at.CommandError, got: %v", err)
		}
		if cmdErr.Line != "+CME ERROR: 4" {
			t.Errorf("unexpected error line: %q", cmdErr.Line)
		}
	})
}

func TestModemReboot(t *testing.T) {
	t.Run("Acknowledged", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Echo(true).Expect("AT+NRB", "REBOOTING", "OK")

		if err := m.Reboot(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Silent reboot is tolerated", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT+NRB")

		start := time.Now()
		if err := m.Reboot(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("expected to wait for the reboot window, waited %v", elapsed)
		}
	})

	t.Run("Garbled acknowledgement is tolerated", func(t *testing.T) {
		m, transport := newScriptedModem(t, nil)
		transport.Expect("AT+NRB", "ERROR")

		if err := m.Reboot(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestModemContextCancel(t *testing.T) {
	m, transport := newScriptedModem(t, nil)
	transport.Expect("AT+CFUN=1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.SetRadioActive(ctx, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got: %v", err)
	}
}
