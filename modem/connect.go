package modem

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Bring-up states.
const (
	StatePoweringOn      = "powering_on"
	StateRadioOff        = "radio_off"
	StateConfigChecked   = "config_checked"
	StateRebooted        = "rebooted"
	StatePoweredOnAgain  = "powered_on_again"
	StateAlreadyAttached = "already_attached"
	StateRadioOn         = "radio_on"
	StateSignalAcquired  = "signal_acquired"
	StateAttached        = "attached"
	StateFailed          = "failed"
)

const (
	eventDeactivateRadio = "deactivate_radio"
	eventCheckConfig     = "check_config"
	eventReboot          = "reboot"
	eventPowerOn         = "power_on"
	eventAlreadyAttached = "already_attached"
	eventActivateRadio   = "activate_radio"
	eventAcquireSignal   = "acquire_signal"
	eventAttach          = "attach"
	eventAwaitAttach     = "await_attach"
	eventFail            = "fail"
)

func (m *Modem) newBringUp() *fsm.FSM {
	return fsm.NewFSM(
		StatePoweringOn,
		fsm.Events{
			{Name: eventDeactivateRadio, Src: []string{StatePoweringOn}, Dst: StateRadioOff},
			{Name: eventCheckConfig, Src: []string{StateRadioOff}, Dst: StateConfigChecked},
			{Name: eventReboot, Src: []string{StateConfigChecked}, Dst: StateRebooted},
			{Name: eventPowerOn, Src: []string{StateRebooted, StatePoweringOn}, Dst: StatePoweredOnAgain},
			{Name: eventAlreadyAttached, Src: []string{StatePoweredOnAgain}, Dst: StateAlreadyAttached},
			{Name: eventActivateRadio, Src: []string{StatePoweredOnAgain}, Dst: StateRadioOn},
			{Name: eventAcquireSignal, Src: []string{StateRadioOn}, Dst: StateSignalAcquired},
			{Name: eventAttach, Src: []string{StateSignalAcquired}, Dst: StateAttached},
			{Name: eventAwaitAttach, Src: []string{StatePoweredOnAgain}, Dst: StateAttached},
			{Name: eventFail, Src: []string{
				StatePoweringOn, StateRadioOff, StateConfigChecked, StateRebooted,
				StatePoweredOnAgain, StateRadioOn, StateSignalAcquired,
			}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Info("bring-up", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// bringUpStep is an action that, once it succeeds, fires event.
type bringUpStep struct {
	event string
	run   func(context.Context) error
}

// advance runs steps in order. The first failing step moves f to the failed
// state and ends the bring-up.
func (m *Modem) advance(ctx context.Context, f *fsm.FSM, steps ...bringUpStep) error {
	for _, step := range steps {
		if step.run != nil {
			if err := step.run(ctx); err != nil {
				return m.fail(ctx, f, err)
			}
		}
		if err := f.Event(ctx, step.event); err != nil {
			return fmt.Errorf("bring-up %s: %w", step.event, err)
		}
	}
	return nil
}

func (m *Modem) fail(ctx context.Context, f *fsm.FSM, cause error) error {
	state := f.Current()
	if err := f.Event(context.WithoutCancel(ctx), eventFail); err != nil {
		m.logger.Error("bring-up state", "state", state, "error", err)
	}
	return fmt.Errorf("bring-up failed in %s: %w", state, cause)
}

// Connect brings the modem onto the network from any state:
//
//  1. wait for the modem to answer and switch the radio off
//  2. reconcile the configuration and bind the APN, if one is configured
//  3. reboot and wait for the modem to answer again
//  4. stop here if the modem is already attached
//  5. switch the radio on, wait for a signal and attach
//
// Any failing step aborts the sequence.
func (m *Modem) Connect(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}

	f := m.newBringUp()
	m.bringUp = f

	err := m.advance(ctx, f,
		bringUpStep{eventDeactivateRadio, func(ctx context.Context) error {
			if err := m.On(ctx); err != nil {
				return err
			}
			return m.SetRadioActive(ctx, false)
		}},
		bringUpStep{eventCheckConfig, m.checkConfig},
		bringUpStep{eventReboot, m.Reboot},
		bringUpStep{eventPowerOn, m.On},
	)
	if err != nil {
		return err
	}

	attached, err := m.IsConnected(ctx)
	if err != nil {
		if !retryable(err) {
			return m.fail(ctx, f, err)
		}
		m.logger.Debug("attach state unknown", "error", err)
	}
	if attached {
		return m.advance(ctx, f, bringUpStep{event: eventAlreadyAttached})
	}

	return m.advance(ctx, f,
		bringUpStep{eventActivateRadio, func(ctx context.Context) error {
			return m.SetRadioActive(ctx, true)
		}},
		bringUpStep{eventAcquireSignal, func(ctx context.Context) error {
			s, err := m.waitForSignal(ctx)
			if err == nil {
				m.logger.Info("signal acquired", "rssi", s.RSSI, "ber", s.BER)
			}
			return err
		}},
		bringUpStep{eventAttach, m.attach},
	)
}

// ConnectAuto waits for a modem configured with AUTOCONNECT to attach on its
// own, without touching its configuration or radio.
func (m *Modem) ConnectAuto(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}

	f := m.newBringUp()
	m.bringUp = f

	return m.advance(ctx, f,
		bringUpStep{eventPowerOn, m.On},
		bringUpStep{eventAwaitAttach, m.waitForAttach},
	)
}

// BringUpState returns the state reached by the last Connect or
// ConnectAuto, or the empty string if neither has run.
func (m *Modem) BringUpState() string {
	if m.bringUp == nil {
		return ""
	}
	return m.bringUp.Current()
}

func (m *Modem) checkConfig(ctx context.Context) error {
	if err := m.ReconcileConfig(ctx); err != nil {
		return err
	}
	if m.config.apn != "" {
		return m.CreateContext(ctx, m.config.apn)
	}
	return nil
}
