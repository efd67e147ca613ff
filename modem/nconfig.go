package modem

import (
	"context"
	"fmt"
)

// ReconcileConfig reads the modem configuration (AT+NCONFIG?) and writes
// every entry of the configured table the modem does not already hold with
// the wanted value.
//
// Only the query can fail the reconciliation. Each write is attempted once
// and a rejected write is logged and skipped.
func (m *Modem) ReconcileConfig(ctx context.Context) error {
	p := newNConfigParser(m.config.nconfig)
	if err := m.exec(ctx, cmdNConfig, p, m.config.atTimeout); err != nil {
		return err
	}

	pending := p.unmatched()
	m.logger.Debug("configuration read",
		"reported", p.lines,
		"wanted", len(m.config.nconfig),
		"pending", len(pending))

	for _, entry := range pending {
		cmd := fmt.Sprintf(cmdSetNConfig, entry.Name, entry.Value)
		if err := m.expectOK(ctx, cmd); err != nil {
			if !retryable(err) {
				return err
			}
			m.logger.Warn("configuration write rejected",
				"name", entry.Name,
				"value", entry.Value,
				"error", err)
			continue
		}
		m.logger.Debug("configuration written", "name", entry.Name, "value", entry.Value)
	}

	return nil
}
